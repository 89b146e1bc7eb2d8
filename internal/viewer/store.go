package viewer

import (
	"sort"
	"sync"

	"github.com/benkuper/Pleiades/internal/scene"
	"github.com/benkuper/Pleiades/internal/wire"
)

// Box is an axis-aligned bounding box.
type Box struct {
	Min   [3]float32 `json:"min"`
	Max   [3]float32 `json:"max"`
	Color string     `json:"color"`
}

// Renderable is the display form of one live object.
type Renderable struct {
	ID         int32        `json:"id"`
	Kind       string       `json:"kind"`
	Color      string       `json:"color"`
	PointCount int          `json:"point_count"`
	State      string       `json:"state,omitempty"`
	Centroid   *[3]float32  `json:"centroid,omitempty"`
	Velocity   *[3]float32  `json:"velocity,omitempty"`
	Box        *Box         `json:"box,omitempty"`
	Updates    int          `json:"updates"`
	Points     [][3]float32 `json:"points,omitempty"`

	state wire.ClusterState
}

type entry struct {
	id      int32
	kind    wire.Kind
	points  []wire.Vec3
	cluster *wire.ClusterInfo
	updates int
}

// Store is a Presenter that keeps a copy of every live object for
// concurrent readers such as the HTTP handlers.
type Store struct {
	mu      sync.RWMutex
	objects map[int32]*entry
}

var _ scene.Presenter = (*Store)(nil)

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{objects: make(map[int32]*entry)}
}

func (s *Store) OnCreate(id int32, kind wire.Kind, g scene.Geometry) scene.Handle {
	e := &entry{id: id, kind: kind}
	s.mu.Lock()
	e.load(g)
	s.objects[id] = e
	s.mu.Unlock()
	return e
}

func (s *Store) OnUpdate(h scene.Handle, g scene.Geometry) {
	e, ok := h.(*entry)
	if !ok {
		return
	}
	s.mu.Lock()
	e.load(g)
	s.mu.Unlock()
}

func (s *Store) OnRemove(h scene.Handle) {
	e, ok := h.(*entry)
	if !ok {
		return
	}
	s.mu.Lock()
	if s.objects[e.id] == e {
		delete(s.objects, e.id)
	}
	s.mu.Unlock()
}

// load copies g into e so readers never share slices with the registry.
func (e *entry) load(g scene.Geometry) {
	e.points = append(e.points[:0], g.Points()...)
	if c, ok := g.(*scene.Cluster); ok {
		e.cluster = &wire.ClusterInfo{State: c.State, Metrics: c.Metrics}
	}
	e.updates++
}

// Len returns the number of live objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// List returns every object without points, ordered by ID.
func (s *Store) List() []Renderable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Renderable, 0, len(s.objects))
	for _, e := range s.objects {
		out = append(out, e.render(false))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns one object including its points.
func (s *Store) Get(id int32) (Renderable, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.objects[id]
	if !ok {
		return Renderable{}, false
	}
	return e.render(true), true
}

// Snapshot returns every object including points, ordered by ID.
func (s *Store) Snapshot() []Renderable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Renderable, 0, len(s.objects))
	for _, e := range s.objects {
		out = append(out, e.render(true))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func vec(v wire.Vec3) [3]float32 { return [3]float32{v.X, v.Y, v.Z} }

func (e *entry) render(withPoints bool) Renderable {
	r := Renderable{
		ID:         e.id,
		Kind:       e.kind.String(),
		PointCount: len(e.points),
		Updates:    e.updates,
	}
	if e.cluster != nil {
		m := e.cluster.Metrics
		c, v := vec(m.Centroid), vec(m.Velocity)
		r.state = e.cluster.State
		r.State = e.cluster.State.String()
		r.Centroid = &c
		r.Velocity = &v
		r.Box = &Box{Min: vec(m.BoxMin), Max: vec(m.BoxMax), Color: BoxColor(e.id, e.cluster.State).Hex()}
		r.Color = ObjectColor(e.id, e.cluster.State, true).Hex()
	} else {
		r.Color = ObjectColor(e.id, 0, false).Hex()
	}
	if withPoints {
		r.Points = make([][3]float32, len(e.points))
		for i, p := range e.points {
			r.Points[i] = vec(p)
		}
	}
	return r
}
