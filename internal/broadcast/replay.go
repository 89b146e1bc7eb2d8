package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/benkuper/Pleiades/internal/timeutil"
	"github.com/benkuper/Pleiades/internal/wire"
)

// TimedFrame is a recorded frame and its offset from the start of the
// recording.
type TimedFrame struct {
	Offset time.Duration
	Data   []byte
}

// Replayer re-publishes a recorded session with its original pacing.
type Replayer struct {
	Frames []TimedFrame
	Rate   float64 // playback speed, 1 is real time
	Loop   bool
	Clock  timeutil.Clock

	skipped int
}

// Run publishes every frame, waiting between frames to honour their
// offsets. With Loop set it starts over after a Clear frame so clients
// drop the previous pass. Frames the publisher rejects are skipped.
func (r *Replayer) Run(ctx context.Context, pub Publisher) error {
	if len(r.Frames) == 0 {
		return fmt.Errorf("replay: no frames")
	}
	rate := r.Rate
	if rate <= 0 {
		rate = 1
	}
	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	for pass := 1; ; pass++ {
		log.Printf("[broadcast] replay pass %d: %d frames over %v at %.2fx",
			pass, len(r.Frames), r.Frames[len(r.Frames)-1].Offset, rate)

		start := clock.Now()
		for _, f := range r.Frames {
			due := start.Add(time.Duration(float64(f.Offset) / rate))
			if wait := due.Sub(clock.Now()); wait > 0 {
				t := clock.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
					return ctx.Err()
				case <-t.C():
				}
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := pub.Publish(f.Data); err != nil {
				if errors.Is(err, ErrClosed) {
					return err
				}
				r.skipped++
				log.Printf("[broadcast] replay skipped frame at %v: %v", f.Offset, err)
			}
		}

		if !r.Loop {
			return nil
		}
		if err := pub.Publish(wire.ClearFrame()); err != nil {
			return fmt.Errorf("replay clear: %w", err)
		}
	}
}

// Skipped returns how many frames the publisher rejected.
func (r *Replayer) Skipped() int { return r.skipped }
