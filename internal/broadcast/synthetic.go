package broadcast

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/benkuper/Pleiades/internal/timeutil"
	"github.com/benkuper/Pleiades/internal/wire"
)

// BackgroundID is the object ID of the synthetic background cloud.
const BackgroundID int32 = 0

// Publisher accepts encoded frames. *Hub implements it.
type Publisher interface {
	Publish(frame []byte) error
}

type synthTrack struct {
	id       int32
	slot     int
	born     uint64 // frame index of the Entered frame
	lifetime uint64 // frames until Leaving
}

// SyntheticGenerator produces a moving scene: a static background cloud
// and clusters travelling on a circle. Each cluster is Entered on its
// first frame, Stable afterwards, sends one Leaving frame at the end of its
// lifetime and is respawned with a fresh ID.
type SyntheticGenerator struct {
	// Configuration
	PointCount    int           // background points
	ClusterCount  int           // concurrent clusters
	ClusterPoints int           // points per cluster
	FrameRate     float64       // frames per second
	AreaRadius    float64       // metres, radius of the background disc
	TrackRadius   float64       // metres, radius of the cluster paths
	TrackSpeedMPS float64       // metres per second along the path
	Lifetime      time.Duration // mean cluster lifetime

	frame  uint64
	nextID int32
	tracks []*synthTrack
	rng    *rand.Rand
}

// NewSyntheticGenerator creates a generator. The seed makes runs
// reproducible.
func NewSyntheticGenerator(seed int64) *SyntheticGenerator {
	return &SyntheticGenerator{
		PointCount:    2000,
		ClusterCount:  5,
		ClusterPoints: 120,
		FrameRate:     30,
		AreaRadius:    8,
		TrackRadius:   3,
		TrackSpeedMPS: 1.2,
		Lifetime:      8 * time.Second,
		nextID:        1,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// NextFrame returns the updates for the next tick: the background cloud
// followed by one update per cluster slot.
func (g *SyntheticGenerator) NextFrame() []wire.Update {
	if g.tracks == nil {
		g.tracks = make([]*synthTrack, g.ClusterCount)
	}
	frame := g.frame
	g.frame++
	elapsed := float64(frame) / g.FrameRate

	updates := make([]wire.Update, 0, 1+len(g.tracks))
	if g.PointCount > 0 {
		updates = append(updates, g.background())
	}

	for slot, tr := range g.tracks {
		if tr == nil {
			tr = g.spawn(slot, frame)
			g.tracks[slot] = tr
		}
		u := g.cluster(tr, frame, elapsed)
		if u.Leaving() {
			g.tracks[slot] = nil
		}
		updates = append(updates, u)
	}
	return updates
}

func (g *SyntheticGenerator) spawn(slot int, frame uint64) *synthTrack {
	frames := g.Lifetime.Seconds() * g.FrameRate
	// Spread lifetimes over [0.5, 1.5) of the mean so slots do not leave together.
	lifetime := uint64(frames * (0.5 + g.rng.Float64()))
	if lifetime < 2 {
		lifetime = 2
	}
	tr := &synthTrack{id: g.nextID, slot: slot, born: frame, lifetime: lifetime}
	g.nextID++
	if g.nextID <= BackgroundID {
		g.nextID = BackgroundID + 1
	}
	return tr
}

// background creates the static disc with slight height noise.
func (g *SyntheticGenerator) background() wire.Update {
	pts := make([]wire.Vec3, g.PointCount)
	for i := range pts {
		angle := g.rng.Float64() * 2 * math.Pi
		r := math.Sqrt(g.rng.Float64()) * g.AreaRadius
		pts[i] = wire.Vec3{
			X: float32(r * math.Cos(angle)),
			Y: float32(r * math.Sin(angle)),
			Z: float32(g.rng.Float64()*0.2 - 0.1),
		}
	}
	return wire.Update{ObjectID: BackgroundID, Kind: wire.KindCloud, Points: pts}
}

// cluster positions tr on its circular path for this frame.
func (g *SyntheticGenerator) cluster(tr *synthTrack, frame uint64, elapsed float64) wire.Update {
	baseAngle := float64(tr.slot) * 2 * math.Pi / float64(len(g.tracks))
	angularSpeed := g.TrackSpeedMPS / g.TrackRadius
	angle := baseAngle + elapsed*angularSpeed

	cx := g.TrackRadius * math.Cos(angle)
	cy := g.TrackRadius * math.Sin(angle)
	vx := -g.TrackSpeedMPS * math.Sin(angle)
	vy := g.TrackSpeedMPS * math.Cos(angle)

	const halfW, height = 0.3, 1.7 // a standing person
	metrics := wire.ClusterMetrics{
		Centroid: wire.Vec3{X: float32(cx), Y: float32(cy), Z: height / 2},
		Velocity: wire.Vec3{X: float32(vx), Y: float32(vy)},
		BoxMin:   wire.Vec3{X: float32(cx - halfW), Y: float32(cy - halfW), Z: 0},
		BoxMax:   wire.Vec3{X: float32(cx + halfW), Y: float32(cy + halfW), Z: height},
	}

	age := frame - tr.born
	state := wire.ClusterStable
	switch {
	case age == 0:
		state = wire.ClusterEntered
	case age >= tr.lifetime:
		return wire.Update{
			ObjectID: tr.id,
			Kind:     wire.KindCluster,
			Cluster:  &wire.ClusterInfo{State: wire.ClusterLeaving, Metrics: metrics},
		}
	}

	pts := make([]wire.Vec3, g.ClusterPoints)
	for i := range pts {
		pts[i] = wire.Vec3{
			X: metrics.BoxMin.X + g.rng.Float32()*2*halfW,
			Y: metrics.BoxMin.Y + g.rng.Float32()*2*halfW,
			Z: g.rng.Float32() * height,
		}
	}
	return wire.Update{
		ObjectID: tr.id,
		Kind:     wire.KindCluster,
		Cluster:  &wire.ClusterInfo{State: state, Metrics: metrics},
		Points:   pts,
	}
}

// Run publishes NextFrame at FrameRate until ctx ends.
func (g *SyntheticGenerator) Run(ctx context.Context, pub Publisher, clock timeutil.Clock) error {
	if g.FrameRate <= 0 {
		return fmt.Errorf("frame rate must be positive, got %f", g.FrameRate)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ticker := clock.NewTicker(time.Duration(float64(time.Second) / g.FrameRate))
	defer ticker.Stop()

	log.Printf("[broadcast] synthetic scene: %d background points, %d clusters at %.0f fps",
		g.PointCount, g.ClusterCount, g.FrameRate)

	var buf []byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			for _, u := range g.NextFrame() {
				var err error
				buf, err = wire.AppendEncode(buf[:0], u)
				if err != nil {
					return fmt.Errorf("encode synthetic %s: %w", u, err)
				}
				// Publish keeps the slice for resync, so hand over a copy.
				frame := append([]byte(nil), buf...)
				if err := pub.Publish(frame); err != nil {
					return fmt.Errorf("publish: %w", err)
				}
			}
		}
	}
}
