package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode serialises u into a new frame. It is the inverse of Decode.
func Encode(u Update) ([]byte, error) {
	return AppendEncode(nil, u)
}

// AppendEncode appends the frame for u to dst and returns the extended slice.
func AppendEncode(dst []byte, u Update) ([]byte, error) {
	switch u.Kind {
	case KindClear, KindCloud:
	case KindCluster:
		if u.Cluster == nil {
			return dst, fmt.Errorf("encode cluster id=%d: missing cluster block", u.ObjectID)
		}
	default:
		return dst, fmt.Errorf("encode id=%d: %w: tag %d", u.ObjectID, ErrUnknownType, int8(u.Kind))
	}

	dst = append(dst, byte(u.Kind))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(u.ObjectID))
	if u.Kind == KindClear {
		return dst, nil
	}

	if u.Kind == KindCluster {
		m := u.Cluster.Metrics
		dst = binary.LittleEndian.AppendUint32(dst, uint32(u.Cluster.State))
		dst = appendVec3(dst, m.Centroid)
		dst = appendVec3(dst, m.Velocity)
		dst = appendVec3(dst, m.BoxMin)
		dst = appendVec3(dst, m.BoxMax)
	}

	for _, p := range u.Points {
		dst = appendVec3(dst, p)
	}
	return dst, nil
}

// ClearFrame returns a Clear control frame.
func ClearFrame() []byte {
	return []byte{byte(0xFF), 0, 0, 0, 0}
}

func appendVec3(dst []byte, v Vec3) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v.X))
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v.Y))
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v.Z))
	return dst
}
