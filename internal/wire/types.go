package wire

import "fmt"

// Frame layout sizes in bytes.
const (
	HeaderSize        = 5
	ClusterBlockSize  = 4 + 12*4
	ClusterHeaderSize = HeaderSize + ClusterBlockSize
	PointSize         = 3 * 4
)

// Kind is the frame type tag carried in byte 0.
type Kind int8

const (
	KindClear   Kind = -1
	KindCloud   Kind = 0
	KindCluster Kind = 1
)

// String returns a lower-case name for the kind.
func (k Kind) String() string {
	switch k {
	case KindClear:
		return "clear"
	case KindCloud:
		return "cloud"
	case KindCluster:
		return "cluster"
	default:
		return fmt.Sprintf("kind(%d)", int8(k))
	}
}

// ClusterState is the tracker lifecycle ordinal attached to cluster frames.
type ClusterState int32

const (
	ClusterEntered ClusterState = 0
	ClusterStable  ClusterState = 1
	ClusterLeaving ClusterState = 2
	ClusterGhost   ClusterState = 3
)

// Valid reports whether s is one of the ordinals the server produces.
func (s ClusterState) Valid() bool {
	return s >= ClusterEntered && s <= ClusterGhost
}

// String returns the lowercase state name, or state(N) for unknown ordinals.
func (s ClusterState) String() string {
	switch s {
	case ClusterEntered:
		return "entered"
	case ClusterStable:
		return "stable"
	case ClusterLeaving:
		return "leaving"
	case ClusterGhost:
		return "ghost"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Vec3 is a point or vector in the sensor frame, metres.
type Vec3 struct {
	X, Y, Z float32
}

// ClusterMetrics holds the aggregate motion and bounds of a tracked cluster.
type ClusterMetrics struct {
	Centroid Vec3
	Velocity Vec3
	BoxMin   Vec3
	BoxMax   Vec3
}

// BoxCenter returns the centre of the axis-aligned bounding box.
func (m ClusterMetrics) BoxCenter() Vec3 {
	return Vec3{
		X: (m.BoxMin.X + m.BoxMax.X) / 2,
		Y: (m.BoxMin.Y + m.BoxMax.Y) / 2,
		Z: (m.BoxMin.Z + m.BoxMax.Z) / 2,
	}
}

// BoxSize returns the extent of the axis-aligned bounding box.
func (m ClusterMetrics) BoxSize() Vec3 {
	return Vec3{
		X: m.BoxMax.X - m.BoxMin.X,
		Y: m.BoxMax.Y - m.BoxMin.Y,
		Z: m.BoxMax.Z - m.BoxMin.Z,
	}
}

// ClusterInfo is the cluster block of a Cluster frame.
type ClusterInfo struct {
	State   ClusterState
	Metrics ClusterMetrics
}

// Update is one decoded frame.
type Update struct {
	ObjectID int32
	Kind     Kind

	// Cluster is non-nil only when Kind is KindCluster.
	Cluster *ClusterInfo

	// Points is empty for Clear frames.
	Points []Vec3
}

// Leaving reports whether u is a cluster frame announcing that its object
// is about to leave the scene.
func (u Update) Leaving() bool {
	return u.Kind == KindCluster && u.Cluster != nil && u.Cluster.State == ClusterLeaving
}

func (u Update) String() string {
	switch u.Kind {
	case KindClear:
		return "clear"
	case KindCluster:
		state := ClusterState(-1)
		if u.Cluster != nil {
			state = u.Cluster.State
		}
		return fmt.Sprintf("cluster id=%d state=%s points=%d", u.ObjectID, state, len(u.Points))
	default:
		return fmt.Sprintf("%s id=%d points=%d", u.Kind, u.ObjectID, len(u.Points))
	}
}
