package statesync

import (
	"bytes"
	"testing"
)

func newTestTrailer(t *testing.T) *Trailer {
	t.Helper()
	tr, err := NewTrailer(NewHasher())
	if err != nil {
		t.Fatalf("NewTrailer: %v", err)
	}
	return tr
}

func checksumOf(t *testing.T, data []byte) Checksum128 {
	t.Helper()
	return NewHasher().Sum128(data)
}

// Scenario 1: in-order assembly, one byte at a time.
func TestTrailer_InOrderAssembly(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	buf := make([]byte, len(data))
	checksum := checksumOf(t, data)
	tr := newTestTrailer(t)

	for i := 0; i < len(data)-1; i++ {
		assembled, err := tr.WriteChunk(
			Destination{Buffer: buf, Size: uint64(len(data)), Checksum: checksum},
			Chunk{Bytes: data[i : i+1], ChunkOffset: uint64(i)},
		)
		if err != nil {
			t.Fatalf("chunk %d: unexpected error: %v", i, err)
		}
		if assembled != nil {
			t.Fatalf("chunk %d: expected no assembled value, got one", i)
		}
	}

	last := len(data) - 1
	assembled, err := tr.WriteChunk(
		Destination{Buffer: buf, Size: uint64(len(data)), Checksum: checksum},
		Chunk{Bytes: data[last:], ChunkOffset: uint64(last)},
	)
	if err != nil {
		t.Fatalf("final chunk: unexpected error: %v", err)
	}
	if !bytes.Equal(assembled, data) {
		t.Fatalf("assembled = %v, want %v", assembled, data)
	}
	if !tr.Done() {
		t.Fatal("expected Done() true after completion")
	}
}

// Scenario 2: all-at-once, single chunk.
func TestTrailer_AllAtOnce(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	buf := make([]byte, len(data))
	checksum := checksumOf(t, data)
	tr := newTestTrailer(t)

	assembled, err := tr.WriteChunk(
		Destination{Buffer: buf, Size: uint64(len(data)), Checksum: checksum},
		Chunk{Bytes: data, ChunkOffset: 0},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(assembled, data) {
		t.Fatalf("assembled = %v, want %v", assembled, data)
	}
}

// Scenario 3: duplicate prefix tolerated, then completion.
func TestTrailer_DuplicatePrefix(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	buf := make([]byte, len(data))
	checksum := checksumOf(t, data)
	tr := newTestTrailer(t)
	dest := Destination{Buffer: buf, Size: uint64(len(data)), Checksum: checksum}

	for i := 0; i < 2; i++ {
		assembled, err := tr.WriteChunk(dest, Chunk{Bytes: data[0:2], ChunkOffset: 0})
		if err != nil {
			t.Fatalf("duplicate call %d: unexpected error: %v", i, err)
		}
		if assembled != nil {
			t.Fatalf("duplicate call %d: expected no assembled value", i)
		}
	}
	if tr.NextOffset() != 2 {
		t.Fatalf("NextOffset = %d, want 2", tr.NextOffset())
	}

	assembled, err := tr.WriteChunk(dest, Chunk{Bytes: data[2:], ChunkOffset: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(assembled, data) {
		t.Fatalf("assembled = %v, want %v", assembled, data)
	}
}

// Scenario 4: a future chunk arrives early, is discarded, then the
// in-order sequence (including a repeat of the same future chunk at the
// end) completes correctly.
func TestTrailer_PrematureFutureChunk(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	buf := make([]byte, len(data))
	checksum := checksumOf(t, data)
	tr := newTestTrailer(t)
	dest := Destination{Buffer: buf, Size: uint64(len(data)), Checksum: checksum}

	assembled, err := tr.WriteChunk(dest, Chunk{Bytes: data[6:8], ChunkOffset: 6})
	if err != nil {
		t.Fatalf("future chunk: unexpected error: %v", err)
	}
	if assembled != nil {
		t.Fatal("future chunk: expected no assembled value")
	}
	if tr.NextOffset() != 0 {
		t.Fatalf("NextOffset after future chunk = %d, want 0", tr.NextOffset())
	}

	for i := 0; i < 6; i++ {
		assembled, err := tr.WriteChunk(dest, Chunk{Bytes: data[i : i+1], ChunkOffset: uint64(i)})
		if err != nil {
			t.Fatalf("in-order chunk %d: unexpected error: %v", i, err)
		}
		if assembled != nil {
			t.Fatalf("in-order chunk %d: expected no assembled value", i)
		}
	}

	assembled, err = tr.WriteChunk(dest, Chunk{Bytes: data[6:8], ChunkOffset: 6})
	if err != nil {
		t.Fatalf("final chunk: unexpected error: %v", err)
	}
	if !bytes.Equal(assembled, data) {
		t.Fatalf("assembled = %v, want %v", assembled, data)
	}
}

func TestTrailer_DuplicateIdempotence(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	buf := make([]byte, len(data))
	checksum := checksumOf(t, data)
	tr := newTestTrailer(t)
	dest := Destination{Buffer: buf, Size: uint64(len(data)), Checksum: checksum}

	if _, err := tr.WriteChunk(dest, Chunk{Bytes: data[0:2], ChunkOffset: 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := tr.NextOffset()
	assembled, err := tr.WriteChunk(dest, Chunk{Bytes: data[0:2], ChunkOffset: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if assembled != nil {
		t.Fatal("expected no assembled value on duplicate")
	}
	if tr.NextOffset() != before {
		t.Fatalf("NextOffset changed on duplicate: before=%d after=%d", before, tr.NextOffset())
	}
}

func TestTrailer_FutureChunkRejection(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	buf := make([]byte, len(data))
	checksum := checksumOf(t, data)
	tr := newTestTrailer(t)
	dest := Destination{Buffer: buf, Size: uint64(len(data)), Checksum: checksum}

	assembled, err := tr.WriteChunk(dest, Chunk{Bytes: data[2:4], ChunkOffset: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if assembled != nil {
		t.Fatal("expected no assembled value")
	}
	if tr.NextOffset() != 0 {
		t.Fatalf("NextOffset = %d, want 0", tr.NextOffset())
	}
}

func TestTrailer_DigestMismatchReturnsAuthFailure(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	buf := make([]byte, len(data))
	wrongChecksum := checksumOf(t, []byte{9, 9, 9, 9})
	tr := newTestTrailer(t)
	dest := Destination{Buffer: buf, Size: uint64(len(data)), Checksum: wrongChecksum}

	_, err := tr.WriteChunk(dest, Chunk{Bytes: data, ChunkOffset: 0})
	if err != ErrChunkAuthenticationFailed {
		t.Fatalf("err = %v, want ErrChunkAuthenticationFailed", err)
	}
}

func TestTrailer_PastChunkMismatchReturnsAuthFailure(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	buf := make([]byte, len(data))
	checksum := checksumOf(t, data)
	tr := newTestTrailer(t)
	dest := Destination{Buffer: buf, Size: uint64(len(data)), Checksum: checksum}

	if _, err := tr.WriteChunk(dest, Chunk{Bytes: data[0:2], ChunkOffset: 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := tr.WriteChunk(dest, Chunk{Bytes: []byte{9, 9}, ChunkOffset: 0})
	if err != ErrDuplicateChunkMismatch {
		t.Fatalf("err = %v, want ErrDuplicateChunkMismatch", err)
	}
}

func TestTrailer_AtMostOneTerminal(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	buf := make([]byte, len(data))
	checksum := checksumOf(t, data)
	tr := newTestTrailer(t)
	dest := Destination{Buffer: buf, Size: uint64(len(data)), Checksum: checksum}

	terminals := 0
	for i := 0; i < len(data); i++ {
		assembled, err := tr.WriteChunk(dest, Chunk{Bytes: data[i : i+1], ChunkOffset: uint64(i)})
		if err != nil {
			t.Fatalf("chunk %d: unexpected error: %v", i, err)
		}
		if assembled != nil {
			terminals++
		}
	}
	// Feeding the terminal chunk again after completion must not return
	// another assembled value.
	assembled, err := tr.WriteChunk(dest, Chunk{Bytes: data[len(data)-1:], ChunkOffset: uint64(len(data) - 1)})
	if err != nil {
		t.Fatalf("post-completion call: unexpected error: %v", err)
	}
	if assembled != nil {
		terminals++
	}
	if terminals != 1 {
		t.Fatalf("terminals = %d, want 1", terminals)
	}
}

func TestTrailer_ChunkTooLargePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on oversized chunk")
		}
	}()
	tr := newTestTrailer(t)
	buf := make([]byte, ChunkSizeMax+1)
	_, _ = tr.WriteChunk(
		Destination{Buffer: buf, Size: uint64(len(buf))},
		Chunk{Bytes: buf, ChunkOffset: 0},
	)
}

func TestTrailer_DestinationTooSmallPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on undersized destination buffer")
		}
	}()
	tr := newTestTrailer(t)
	_, _ = tr.WriteChunk(
		Destination{Buffer: make([]byte, 2), Size: 4},
		Chunk{Bytes: []byte{1, 2}, ChunkOffset: 0},
	)
}

func TestTrailer_DestinationChangedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on destination buffer identity change")
		}
	}()
	data := []byte{1, 2, 3, 4}
	checksum := checksumOf(t, data)
	tr := newTestTrailer(t)

	buf1 := make([]byte, len(data))
	if _, err := tr.WriteChunk(Destination{Buffer: buf1, Size: uint64(len(data)), Checksum: checksum}, Chunk{Bytes: data[0:2], ChunkOffset: 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	buf2 := make([]byte, len(data))
	_, _ = tr.WriteChunk(Destination{Buffer: buf2, Size: uint64(len(data)), Checksum: checksum}, Chunk{Bytes: data[2:4], ChunkOffset: 2})
}
