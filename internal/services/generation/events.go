package generation

import (
	"context"
	"sync"

	"github.com/gensy-ai/creative-ledger/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// EventRecorder writes lifecycle audit events off the request path. The
// ledger and status writes are the source of truth, events are best
// effort: a full buffer drops the event rather than block a transition.
type EventRecorder struct {
	db       *gorm.DB
	tasks    chan models.GenerationEvent
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewEventRecorder creates a recorder with the given worker pool and buffer sizes
func NewEventRecorder(db *gorm.DB, poolSize, bufferSize int) *EventRecorder {
	if poolSize <= 0 {
		poolSize = 2
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}

	r := &EventRecorder{
		db:      db,
		tasks:   make(chan models.GenerationEvent, bufferSize),
		stopped: make(chan struct{}),
	}

	for range poolSize {
		r.wg.Add(1)
		go r.run()
	}

	return r
}

// Record enqueues a lifecycle event for async persistence
func (r *EventRecorder) Record(event models.GenerationEvent) {
	select {
	case <-r.stopped:
		fiberlog.Warnf("Event recorder stopped, dropping event for generation %s", event.GenerationID)
		return
	case r.tasks <- event:
	default:
		fiberlog.Warnf("Event buffer full, dropping event for generation %s", event.GenerationID)
	}
}

func (r *EventRecorder) run() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopped:
			return
		case event := <-r.tasks:
			if err := r.db.WithContext(context.Background()).Create(&event).Error; err != nil {
				fiberlog.Errorf("Failed to record event for generation %s: %v", event.GenerationID, err)
			}
		}
	}
}

// Stop drains workers and shuts the recorder down
func (r *EventRecorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopped)
		close(r.tasks)
		r.wg.Wait()
	})
}
