package statesync

import "unsafe"

// ChunkSizeMax is the maximum payload a single chunk message body may
// carry. Trailer sizes themselves are unbounded.
const ChunkSizeMax = 1 << 20 // 1 MiB

// Final is the size/checksum pair a Trailer latches on its first chunk.
// Once latched it is immutable: every subsequent chunk must present the
// same pair.
type Final struct {
	Size     uint64
	Checksum Checksum128
}

// Destination is the caller-owned buffer a Trailer assembles into, plus
// the total size and checksum the caller expects the finished assembly to
// have. The Trailer never allocates; it only ever writes within
// Buffer[:Size], and borrows Buffer for the duration of a single
// WriteChunk call.
type Destination struct {
	Buffer   []byte
	Size     uint64
	Checksum Checksum128
}

// Chunk is one fragment of a trailer's byte sequence.
type Chunk struct {
	Bytes       []byte
	ChunkOffset uint64
}

// Trailer is a resumable assembler that reconstructs one oversized
// authenticated byte sequence from fixed-bounded chunks arriving out of
// order, tolerating duplicates and silently discarding chunks that arrive
// ahead of what has been written so far.
type Trailer struct {
	hasher Hasher

	nextOffset uint64
	done       bool
	final      *Final
	destBuf    []byte // identity of the destination buffer latched on first call
}

// NewTrailer constructs an empty Trailer that authenticates completed
// assemblies with hasher.
func NewTrailer(hasher Hasher) (*Trailer, error) {
	if hasher == nil {
		return nil, ErrNilHasher
	}
	return &Trailer{hasher: hasher}, nil
}

// Done reports whether the trailer has latched a verified terminal
// assembly.
func (t *Trailer) Done() bool {
	return t.done
}

// NextOffset reports the first byte not yet written.
func (t *Trailer) NextOffset() uint64 {
	return t.nextOffset
}

// Latched reports whether the trailer has recorded its expected
// size/checksum from a first chunk.
func (t *Trailer) Latched() bool {
	return t.final != nil
}

// Size reports the latched total size, if any.
func (t *Trailer) Size() (uint64, bool) {
	if t.final == nil {
		return 0, false
	}
	return t.final.Size, true
}

// WriteChunk feeds one chunk to the assembler. It returns the fully
// assembled byte slice exactly once — on the call whose chunk completes
// the sequence and whose digest matches the latched checksum — and nil on
// every other call, including all calls after completion.
//
// WriteChunk panics on a violated assertion-level precondition: a chunk
// larger than ChunkSizeMax, a destination whose declared size exceeds its
// buffer's capacity, or a destination buffer swapped mid-assembly. These
// can only happen if the caller breaks the Destination contract and are
// not recoverable.
//
// WriteChunk returns ErrChunkAuthenticationFailed or
// ErrDuplicateChunkMismatch — without panicking — when a peer or the
// transport is the likely culprit: a completed digest that does not
// match the latched checksum, a second final that contradicts the first,
// or a past chunk that disagrees with previously stored bytes. The
// caller is expected to abort the current sync attempt and return to
// requesting_target rather than treat these as process-fatal.
func (t *Trailer) WriteChunk(dest Destination, chunk Chunk) ([]byte, error) {
	if uint64(len(chunk.Bytes)) > ChunkSizeMax {
		panic(ErrChunkTooLarge)
	}
	if dest.Size > uint64(len(dest.Buffer)) {
		panic(ErrDestinationTooSmall)
	}

	if t.done {
		return nil, nil
	}

	if t.final == nil {
		t.final = &Final{Size: dest.Size, Checksum: dest.Checksum}
		t.destBuf = dest.Buffer
	} else {
		if dest.Size != t.final.Size || dest.Checksum != t.final.Checksum {
			return nil, ErrChunkAuthenticationFailed
		}
		if !sameBuffer(dest.Buffer, t.destBuf) {
			panic(ErrDestinationChanged)
		}
	}

	buf := dest.Buffer
	size := t.final.Size

	switch {
	case chunk.ChunkOffset == t.nextOffset:
		end := chunk.ChunkOffset + uint64(len(chunk.Bytes))
		if end > size {
			return nil, ErrChunkAuthenticationFailed
		}
		copy(buf[chunk.ChunkOffset:end], chunk.Bytes)
		t.nextOffset = end

		if t.nextOffset < size {
			return nil, nil
		}

		sum := t.hasher.Sum128(buf[:size])
		if sum != t.final.Checksum {
			return nil, ErrChunkAuthenticationFailed
		}
		t.done = true
		return buf[:size], nil

	case chunk.ChunkOffset > t.nextOffset:
		// Future chunk; requester will re-ask once prerequisites land.
		return nil, nil

	default:
		end := chunk.ChunkOffset + uint64(len(chunk.Bytes))
		if end > t.nextOffset {
			return nil, ErrChunkAuthenticationFailed
		}
		stored := buf[chunk.ChunkOffset:end]
		for i, b := range chunk.Bytes {
			if stored[i] != b {
				return nil, ErrDuplicateChunkMismatch
			}
		}
		return nil, nil
	}
}

// sameBuffer reports whether a and b denote the same underlying array.
func sameBuffer(a, b []byte) bool {
	return unsafe.SliceData(a) == unsafe.SliceData(b)
}
