// Package events is the in-process broadcast bus for download lifecycle and
// post-processing notifications, generalized from the teacher's single
// wake-up channel (engine.QueueManager.newJobChan) into a multi-subscriber
// registry. Delivery is best-effort: a subscriber that isn't reading when
// an event fires misses it, the same one-shot semantics as the teacher's
// channel signal.
package events

import (
	"sync"

	"github.com/jvz-devx/usenetd/internal/domain"
)

type Kind string

const (
	KindQueued               Kind = "Queued"
	KindDownloadStarted      Kind = "DownloadStarted"
	KindDownloadProgress     Kind = "Downloading"
	KindFileComplete         Kind = "FileComplete"
	KindDownloadComplete     Kind = "DownloadComplete"
	KindDownloadFailed       Kind = "DownloadFailed"
	KindDirectUnpackStarted  Kind = "DirectUnpackStarted"
	KindDirectUnpackProgress Kind = "DirectUnpackProgress"
	KindDirectUnpackResult   Kind = "DirectUnpackResult"
	KindVerifyStarted        Kind = "VerifyStarted"
	KindVerifyResult         Kind = "VerifyResult"
	KindRepairStarted        Kind = "RepairStarted"
	KindRepairResult         Kind = "RepairResult"
	KindExtractStarted       Kind = "ExtractStarted"
	KindExtractResult        Kind = "ExtractResult"
	KindMoveResult           Kind = "MoveResult"
	KindCleanupResult        Kind = "CleanupResult"
	KindComplete             Kind = "Complete"
	KindPostProcessComplete  Kind = "OnPostProcessComplete"
	KindFailed               Kind = "Failed"
	KindPaused               Kind = "Paused"
	KindResumed              Kind = "Resumed"
	KindCancelled            Kind = "Cancelled"
	KindRemoved              Kind = "Removed"
	KindQueuePaused          Kind = "QueuePaused"
	KindQueueResumed         Kind = "QueueResumed"
	KindSpeedLimitChanged    Kind = "SpeedLimitChanged"
	KindShutdown             Kind = "Shutdown"
	KindDuplicateDetected    Kind = "DuplicateDetected"
)

// Event is one broadcast notification. Data carries kind-specific payload
// (a VerifyResult, an error message, a progress count, ...).
type Event struct {
	Kind       Kind
	DownloadID domain.DownloadId
	Data       any
}

// Bus is a concurrency-safe fan-out broadcaster.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new listener with a small buffer; call unsubscribe
// when done to stop receiving and release the channel.
func (b *Bus) Subscribe() (ch <-chan Event, unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	c := make(chan Event, 32)
	b.subs[id] = c
	b.mu.Unlock()

	return c, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
}

// Publish broadcasts ev to every current subscriber, best-effort: a
// subscriber whose buffer is full does not block the publisher and simply
// misses the event.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.subs {
		select {
		case c <- ev:
		default:
		}
	}
}
