package statesync

import (
	"context"
	"log/slog"
	"testing"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// fakeGridIO records quiesce requests; it never errors.
type fakeGridIO struct {
	quiesceCalls int
}

func (f *fakeGridIO) RequestQuiesce(context.Context) error {
	f.quiesceCalls++
	return nil
}

// fakeChunkRequester records every chunk request issued by the replica.
type fakeChunkRequester struct {
	requests []chunkRequest
}

type chunkRequest struct {
	kind   TrailerKind
	target Target
	offset uint64
}

func (f *fakeChunkRequester) RequestChunk(_ context.Context, kind TrailerKind, target Target, offset uint64) error {
	f.requests = append(f.requests, chunkRequest{kind: kind, target: target, offset: offset})
	return nil
}

// fakeSuperblockWriter records writes and reports completion synchronously
// through done, bypassing the async goroutine JSONSuperblockWriter uses —
// tests drive Replica single-threaded and don't need the real concurrency.
type fakeSuperblockWriter struct {
	writes   []SuperblockRecord
	done     func(ctx context.Context, target Target, err error)
	failWith error
}

func (f *fakeSuperblockWriter) Write(ctx context.Context, rec SuperblockRecord) error {
	f.writes = append(f.writes, rec)
	if f.done != nil {
		f.done(ctx, rec.Target, f.failWith)
	}
	return nil
}

// fakeHasher is a deterministic, non-cryptographic stand-in used where
// tests need a Hasher but not the default xxhash lanes.
type fakeHasher struct{}

func (fakeHasher) Sum128(data []byte) Checksum128 {
	var hi, lo uint64
	for i, b := range data {
		if i%2 == 0 {
			hi = hi*131 + uint64(b) + 1
		} else {
			lo = lo*131 + uint64(b) + 1
		}
	}
	return Checksum128{Hi: hi, Lo: lo}
}

func testTracer() oteltrace.Tracer {
	return noop.NewTracerProvider().Tracer("statesync_test")
}

func testLogger(t *testing.T) Logger {
	t.Helper()
	return slog.Default()
}
