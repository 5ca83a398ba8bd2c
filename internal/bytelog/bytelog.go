// Package bytelog implements the append-only, chunked byte buffer that
// backs one cached URL: a single Producer appends to it while any number
// of Consumers stream it concurrently, each starting from byte 0.
//
// Grounded on _examples/original_source/src/cache/cache_entry_t.c and
// include/cache.h (CacheEntryT / CacheEntryChunkT / CacheStatusT), carried
// over to Go's sync.Mutex + sync.Cond in place of pthread_mutex_t /
// pthread_cond_t.
package bytelog

import (
	"sync"

	"github.com/pkg/errors"
)

// Chunk is a node in a Log's append-only chunk list. Its capacity and next
// link never change once it becomes a non-tail chunk; only filled grows,
// and only under the owning Log's lock. Callers read Bytes() without
// holding that lock -- see Log's doc comment for why that's safe.
type Chunk = chunk

// Bytes returns the chunk's full backing array. Callers must bound their
// read to a filled length obtained from Log.ChunkState; indices beyond
// that bound may not yet be written.
func (c *Chunk) Bytes() []byte {
	return c.data
}

// ErrFailed is the sentinel that readers of a Failed log (consumer.Stream)
// wrap, so callers can classify with errors.Is regardless of the wrapping
// context.
var ErrFailed = errors.New("bytelog: entry failed")

// Log is one cached URL's byte stream, together with its status and the
// synchronization needed for single-producer/multi-consumer fan-out.
//
// Consumers walk the chunk list and read chunk bytes without holding mu,
// relying on these invariants: (i) once a chunk is linked as a successor,
// its capacity and next link are immutable; (ii) filled only grows, and a
// value observed while holding mu is a safe lower bound on what has
// actually been written, because every byte written into a chunk precedes
// (in program order, under the same lock) the filled increment that
// publishes it -- so any later acquisition of mu that observes the new
// filled value also observes the bytes beneath it, per the Go memory
// model's mutex happens-before rule. The lock is only ever held across
// the append critical section and condition-variable waits, never across
// socket I/O.
type Log struct {
	url string

	mu   sync.Mutex
	cond *sync.Cond

	head, tail *chunk
	status     Status
	downloaded int64

	chunkCapacity int
}

// New creates a Log for url with the given per-chunk capacity (the
// original's DEFAULT_CHUNK_SIZE is 1 MiB; see internal/config for the
// proxy-wide default).
func New(url string, chunkCapacity int) *Log {
	l := &Log{
		url:           url,
		status:        EStatus.InProcess(),
		chunkCapacity: chunkCapacity,
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *Log) URL() string { return l.url }

// Status returns the current status. Once non-InProcess it is terminal.
func (l *Log) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Downloaded returns the total number of bytes appended so far.
func (l *Log) Downloaded() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.downloaded
}

// Head returns the first chunk, or nil if nothing has been appended yet.
func (l *Log) Head() *Chunk {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// ChunkState returns c's current filled count and successor link, taking
// the lock just long enough to read both consistently with the wake
// signal. It does no I/O and never blocks.
func (l *Log) ChunkState(c *Chunk) (filled int, next *Chunk) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return c.filled, c.next
}

// Append copies data into the log, allocating new chunks as needed.
// Appending zero bytes is a no-op. The returned error is always nil and
// Append never changes status: a chunk allocation that cannot be satisfied
// panics in Go rather than returning, so no path here sets Failed.
func (l *Log) Append(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.tail == nil {
		c := newChunk(l.chunkCapacity)
		l.head = c
		l.tail = c
	}

	copied := 0
	for copied < len(data) {
		if l.tail.freeSpace() == 0 {
			next := newChunk(l.chunkCapacity)
			l.tail.next = next
			l.tail = next
		}

		n := copy(l.tail.data[l.tail.filled:], data[copied:])
		l.tail.filled += n
		copied += n
	}

	l.downloaded += int64(len(data))
	l.cond.Broadcast()
	return nil
}

// Finalize transitions status to its terminal value and wakes every
// waiter. Must be called exactly once, by the Producer.
func (l *Log) Finalize(status Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status = status
	l.cond.Broadcast()
}

// WaitForFirstChunk blocks until either Head() would return non-nil or
// status has become Failed. Callers must re-check Head() on return: a nil
// head means the producer failed before writing anything.
func (l *Log) WaitForFirstChunk() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.head == nil && l.status != EStatus.Failed() {
		l.cond.Wait()
	}
}

// WaitForProgressPastOffset blocks while all three hold: status is
// InProcess, chunk.next is nil, and chunk.filled equals offsetWithinChunk.
// It returns as soon as any one of those ceases to hold; the returned
// state is not latched, so the caller must re-read via ChunkState.
func (l *Log) WaitForProgressPastOffset(c *Chunk, offsetWithinChunk int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.status == EStatus.InProcess() && c.next == nil && c.filled == offsetWithinChunk {
		l.cond.Wait()
	}
}
