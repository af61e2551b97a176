package statesync

import "errors"

// Sentinel errors for the core's error classes.
//
// Transition violation and chunk-authentication failures are returned to
// the caller; stale and future input are not errors — they are silently
// ignored and only surfaced through Debug-level logging.
var (
	// ErrInvalidTransition is returned when a Stage write attempts an edge
	// not present in the transition graph. Programming error; fail-stop.
	ErrInvalidTransition = errors.New("statesync: invalid stage transition")

	// ErrChunkAuthenticationFailed is returned when a completed trailer's
	// digest does not match its latched checksum, or a second final
	// contradicts the first latched one. The caller must abort the current
	// sync attempt and return to requesting_target.
	ErrChunkAuthenticationFailed = errors.New("statesync: chunk authentication failed")

	// ErrDuplicateChunkMismatch is returned when a past chunk disagrees
	// byte-for-byte with previously stored data at the same range. This is
	// a narrower form of ErrChunkAuthenticationFailed.
	ErrDuplicateChunkMismatch = errors.New("statesync: duplicate chunk does not match stored bytes")

	// ErrDestinationChanged is the value WriteChunk panics with when it is
	// presented with a destination buffer different from the one used on the
	// first call.
	ErrDestinationChanged = errors.New("statesync: destination buffer identity changed")

	// ErrChunkTooLarge is the value WriteChunk panics with when a chunk
	// exceeds CHUNK_SIZE_MAX.
	ErrChunkTooLarge = errors.New("statesync: chunk exceeds CHUNK_SIZE_MAX")

	// ErrDestinationTooSmall is the value WriteChunk panics with when a
	// destination's declared size exceeds its buffer's capacity.
	ErrDestinationTooSmall = errors.New("statesync: destination size exceeds buffer capacity")

	// ErrNilHasher is returned by NewTrailer when constructed without a
	// Hasher.
	ErrNilHasher = errors.New("statesync: nil hasher")

	// ErrNilLogger is returned by NewReplica when constructed without a
	// Logger.
	ErrNilLogger = errors.New("statesync: nil logger")
)
