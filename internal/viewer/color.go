package viewer

import (
	"fmt"
	"math"

	"github.com/benkuper/Pleiades/internal/wire"
)

// RGB is a display colour with components in [0, 1].
type RGB struct {
	R, G, B float64
}

// Hex formats c as #rrggbb.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", channel(c.R), channel(c.G), channel(c.B))
}

func channel(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}

// hsl converts hue, saturation and lightness, all in [0, 1], to RGB.
func hsl(h, s, l float64) RGB {
	if s == 0 {
		return RGB{l, l, l}
	}
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	return RGB{
		R: hueToRGB(p, q, h+1.0/3),
		G: hueToRGB(p, q, h),
		B: hueToRGB(p, q, h-1.0/3),
	}
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	}
	return p
}

// objectHue spreads consecutive IDs a tenth of the wheel apart.
func objectHue(id int32) float64 {
	h := math.Mod(float64(id)/10, 1)
	if h < 0 {
		h++
	}
	return h
}

// ObjectColor returns the point colour for an object. Ghost clusters are
// desaturated and leaving clusters darkened.
func ObjectColor(id int32, state wire.ClusterState, isCluster bool) RGB {
	s, l := 1.0, 0.5
	if isCluster {
		switch state {
		case wire.ClusterGhost:
			s = 0.2
		case wire.ClusterLeaving:
			l = 0.25
		}
	}
	return hsl(objectHue(id), s, l)
}

// BoxColor returns the bounding box colour for a cluster, lighter than its
// points.
func BoxColor(id int32, state wire.ClusterState) RGB {
	s, l := 1.0, 0.7
	switch state {
	case wire.ClusterGhost:
		s = 0.2
	case wire.ClusterLeaving:
		l = 0.45
	}
	return hsl(objectHue(id), s, l)
}
