package stream

import (
	"time"

	"github.com/google/uuid"
)

// Observer receives notifications from the connection loop. Every method is
// called on the loop goroutine and must not block.
type Observer interface {
	StateChanged(s State)
	SessionStarted(id uuid.UUID, url string, at time.Time)
	SessionEnded(id uuid.UUID, at time.Time, err error)
	FrameReceived(id uuid.UUID, frame []byte, at time.Time)
	FrameRejected(id uuid.UUID, err error)
}

// NopObserver implements Observer with no-ops. Embed it to implement only
// the notifications you need.
type NopObserver struct{}

func (NopObserver) StateChanged(State)                          {}
func (NopObserver) SessionStarted(uuid.UUID, string, time.Time) {}
func (NopObserver) SessionEnded(uuid.UUID, time.Time, error)    {}
func (NopObserver) FrameReceived(uuid.UUID, []byte, time.Time)  {}
func (NopObserver) FrameRejected(uuid.UUID, error)              {}
