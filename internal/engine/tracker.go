package engine

import "sync"

// completionTracker counts down each download-file's remaining pending
// article count and signals fileComplete exactly once per file_index when
// it reaches zero, so the DirectUnpack Coordinator can react within
// microseconds instead of waiting for its next poll (spec.md §4.4.2 Phase
// 5, step 7). The tracker's single mutex supplies the acquire-release ordering the
// concurrency model calls for between the decrement-to-zero and the
// channel send.
type completionTracker struct {
	mu           sync.Mutex
	remaining    map[int]int64
	fileComplete chan int
}

func newCompletionTracker(counts map[int]int64) *completionTracker {
	return &completionTracker{
		remaining:    counts,
		fileComplete: make(chan int, len(counts)+1),
	}
}

// articleCompleted decrements fileIndex's remaining count; on reaching
// zero it sends fileIndex on fileComplete (best-effort — the channel is
// sized to never need to drop a send in normal operation, but a coordinator
// that isn't listening yet isn't allowed to stall the download) and
// reports done so the caller can run its own one-time completion work.
func (t *completionTracker) articleCompleted(fileIndex int) (done bool) {
	t.mu.Lock()
	t.remaining[fileIndex]--
	done = t.remaining[fileIndex] <= 0
	t.mu.Unlock()

	if done {
		select {
		case t.fileComplete <- fileIndex:
		default:
		}
	}
	return done
}
