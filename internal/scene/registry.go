package scene

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/benkuper/Pleiades/internal/wire"
)

// DefaultLivenessWindow is how long an object survives without updates.
const DefaultLivenessWindow = time.Second

// ErrKindMismatch is returned when a frame's kind differs from the variant
// of the live object it addresses. The object is left untouched. Leaving
// frames are exempt and remove the object regardless of its variant.
var ErrKindMismatch = errors.New("scene: frame kind does not match live object")

// EffectKind classifies what an update or expiry did to the registry.
type EffectKind int

const (
	EffectNone EffectKind = iota
	EffectCreated
	EffectUpdated
	EffectRemoved
	EffectClearedAll
)

func (k EffectKind) String() string {
	switch k {
	case EffectNone:
		return "none"
	case EffectCreated:
		return "created"
	case EffectUpdated:
		return "updated"
	case EffectRemoved:
		return "removed"
	case EffectClearedAll:
		return "cleared"
	default:
		return fmt.Sprintf("effect(%d)", int(k))
	}
}

// Effect reports the outcome of one registry operation. Count is only set
// for EffectClearedAll and holds the number of objects removed.
type Effect struct {
	Kind  EffectKind
	ID    int32
	Count int
}

func (e Effect) String() string {
	if e.Kind == EffectClearedAll {
		return fmt.Sprintf("cleared(%d)", e.Count)
	}
	return fmt.Sprintf("%s(%d)", e.Kind, e.ID)
}

// LiveObject is one currently visible entity.
type LiveObject struct {
	ID         int32
	Geometry   Geometry
	Created    time.Time
	LastUpdate time.Time
	Updates    int

	handle Handle
}

// Kind reports the object's variant.
func (o *LiveObject) Kind() wire.Kind { return o.Geometry.Kind() }

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLivenessWindow overrides DefaultLivenessWindow. Non-positive values
// are ignored.
func WithLivenessWindow(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.window = d
		}
	}
}

// Registry maps object IDs to live objects and drives Presenter hooks.
type Registry struct {
	presenter Presenter
	window    time.Duration
	objects   map[int32]*LiveObject
}

// NewRegistry returns an empty registry. A nil presenter is replaced by
// NopPresenter.
func NewRegistry(p Presenter, opts ...RegistryOption) *Registry {
	if p == nil {
		p = NopPresenter{}
	}
	r := &Registry{
		presenter: p,
		window:    DefaultLivenessWindow,
		objects:   make(map[int32]*LiveObject),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LivenessWindow returns the configured expiry window.
func (r *Registry) LivenessWindow() time.Duration { return r.window }

// ApplyUpdate folds one decoded frame into the registry.
func (r *Registry) ApplyUpdate(u wire.Update, now time.Time) (Effect, error) {
	if u.Kind == wire.KindClear {
		n := r.Clear()
		return Effect{Kind: EffectClearedAll, Count: n}, nil
	}
	if u.Kind != wire.KindCloud && u.Kind != wire.KindCluster {
		return Effect{}, fmt.Errorf("apply id=%d: %w: tag %d", u.ObjectID, wire.ErrUnknownType, int8(u.Kind))
	}

	obj, ok := r.objects[u.ObjectID]
	if !ok {
		g := newGeometry(u)
		obj = &LiveObject{
			ID:         u.ObjectID,
			Geometry:   g,
			Created:    now,
			LastUpdate: now,
			Updates:    1,
		}
		obj.handle = r.presenter.OnCreate(u.ObjectID, u.Kind, g)
		r.objects[u.ObjectID] = obj
		diagf("created %s id=%d points=%d", u.Kind, u.ObjectID, len(u.Points))
		return Effect{Kind: EffectCreated, ID: u.ObjectID}, nil
	}

	// Leaving removes whatever variant the id was created as.
	if u.Leaving() {
		r.remove(obj)
		diagf("removed %s id=%d (leaving)", obj.Kind(), u.ObjectID)
		return Effect{Kind: EffectRemoved, ID: u.ObjectID}, nil
	}

	if obj.Kind() != u.Kind {
		return Effect{}, fmt.Errorf("apply id=%d: %w: live %s, frame %s", u.ObjectID, ErrKindMismatch, obj.Kind(), u.Kind)
	}

	obj.Geometry.apply(u)
	obj.LastUpdate = now
	obj.Updates++
	r.presenter.OnUpdate(obj.handle, obj.Geometry)
	tracef("updated %s id=%d points=%d", u.Kind, u.ObjectID, len(u.Points))
	return Effect{Kind: EffectUpdated, ID: u.ObjectID}, nil
}

// ExpireStale removes every object whose last update is strictly older than
// the liveness window. Removals are reported in ascending ID order.
func (r *Registry) ExpireStale(now time.Time) []Effect {
	var stale []*LiveObject
	for _, obj := range r.objects {
		if now.Sub(obj.LastUpdate) > r.window {
			stale = append(stale, obj)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ID < stale[j].ID })

	effects := make([]Effect, 0, len(stale))
	for _, obj := range stale {
		r.remove(obj)
		effects = append(effects, Effect{Kind: EffectRemoved, ID: obj.ID})
	}
	diagf("expired %d object(s) idle longer than %v", len(stale), r.window)
	return effects
}

// Clear removes every object and returns how many were removed.
func (r *Registry) Clear() int {
	objs := r.Objects()
	for _, obj := range objs {
		r.remove(obj)
	}
	if len(objs) > 0 {
		diagf("cleared %d object(s)", len(objs))
	}
	return len(objs)
}

// Len returns the number of live objects.
func (r *Registry) Len() int { return len(r.objects) }

// Get returns the live object for id.
func (r *Registry) Get(id int32) (*LiveObject, bool) {
	obj, ok := r.objects[id]
	return obj, ok
}

// Objects returns the live objects sorted by ID.
func (r *Registry) Objects() []*LiveObject {
	out := make([]*LiveObject, 0, len(r.objects))
	for _, obj := range r.objects {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) remove(obj *LiveObject) {
	if _, ok := r.objects[obj.ID]; !ok {
		opsf("remove of unknown object id=%d ignored", obj.ID)
		return
	}
	delete(r.objects, obj.ID)
	r.presenter.OnRemove(obj.handle)
}
