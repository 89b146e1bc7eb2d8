package scene

import (
	"fmt"

	"github.com/benkuper/Pleiades/internal/wire"
)

// Geometry is the current shape of a live object. The concrete type is
// either *Cloud or *Cluster, chosen by the first frame for the object and
// never changed afterwards.
//
// Geometry values are owned by the Registry and are replaced in place on
// every update; presenters must copy anything they keep.
type Geometry interface {
	Kind() wire.Kind
	Points() []wire.Vec3
	apply(u wire.Update)
}

// Cloud is a bare point cloud.
type Cloud struct {
	Vertices []wire.Vec3
}

// Kind reports wire.KindCloud.
func (c *Cloud) Kind() wire.Kind { return wire.KindCloud }

// Points returns the current point set.
func (c *Cloud) Points() []wire.Vec3 { return c.Vertices }

func (c *Cloud) apply(u wire.Update) { c.Vertices = u.Points }

// String summarises the cloud for logs.
func (c *Cloud) String() string { return fmt.Sprintf("cloud(%d pts)", len(c.Vertices)) }

// Cluster is a tracked cluster: a point cloud plus tracker metrics.
type Cluster struct {
	Vertices []wire.Vec3
	State    wire.ClusterState
	Metrics  wire.ClusterMetrics
}

// Kind reports wire.KindCluster.
func (c *Cluster) Kind() wire.Kind { return wire.KindCluster }

// Points returns the current point set.
func (c *Cluster) Points() []wire.Vec3 { return c.Vertices }

func (c *Cluster) apply(u wire.Update) {
	c.Vertices = u.Points
	if u.Cluster != nil {
		c.State = u.Cluster.State
		c.Metrics = u.Cluster.Metrics
	}
}

// String summarises the cluster state and size for logs.
func (c *Cluster) String() string {
	return fmt.Sprintf("cluster(%s, %d pts)", c.State, len(c.Vertices))
}

// newGeometry builds the variant matching u and seeds it with u.
func newGeometry(u wire.Update) Geometry {
	var g Geometry
	if u.Kind == wire.KindCluster {
		g = &Cluster{}
	} else {
		g = &Cloud{}
	}
	g.apply(u)
	return g
}
