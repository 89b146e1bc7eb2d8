package scene

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/benkuper/Pleiades/internal/wire"
)

// Summary is an aggregate snapshot of the registry contents.
type Summary struct {
	Objects      int            `json:"objects"`
	Clouds       int            `json:"clouds"`
	Clusters     int            `json:"clusters"`
	TotalPoints  int            `json:"total_points"`
	MeanPoints   float64        `json:"mean_points"`
	MeanSpeed    float64        `json:"mean_cluster_speed"`
	MaxSpeed     float64        `json:"max_cluster_speed"`
	ClusterState map[string]int `json:"cluster_states,omitempty"`
}

// Summary computes aggregate counts and cluster speed statistics.
func (r *Registry) Summary() Summary {
	s := Summary{Objects: len(r.objects)}
	if len(r.objects) == 0 {
		return s
	}

	pointCounts := make([]float64, 0, len(r.objects))
	var speeds []float64
	for _, obj := range r.objects {
		n := len(obj.Geometry.Points())
		s.TotalPoints += n
		pointCounts = append(pointCounts, float64(n))

		switch g := obj.Geometry.(type) {
		case *Cloud:
			s.Clouds++
		case *Cluster:
			s.Clusters++
			if s.ClusterState == nil {
				s.ClusterState = make(map[string]int)
			}
			s.ClusterState[g.State.String()]++
			speeds = append(speeds, speed(g.Metrics.Velocity))
		}
	}

	s.MeanPoints = stat.Mean(pointCounts, nil)
	if len(speeds) > 0 {
		s.MeanSpeed = stat.Mean(speeds, nil)
		s.MaxSpeed = floats.Max(speeds)
	}
	return s
}

func speed(v wire.Vec3) float64 {
	return floats.Norm([]float64{float64(v.X), float64(v.Y), float64(v.Z)}, 2)
}
