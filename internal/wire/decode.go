package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrTruncated means the frame is shorter than the fixed header its
	// type tag requires.
	ErrTruncated = errors.New("truncated frame")

	// ErrMisalignedPayload means the point payload is not a whole number
	// of xyz float32 triples.
	ErrMisalignedPayload = errors.New("misaligned point payload")

	// ErrUnknownType means the type tag is not Clear, Cloud or Cluster.
	ErrUnknownType = errors.New("unknown frame type")
)

// DecodeError describes why a frame could not be decoded. It wraps one of
// ErrTruncated, ErrMisalignedPayload or ErrUnknownType.
type DecodeError struct {
	Err  error
	Tag  int8
	Size int // frame length in bytes
	Need int // bytes required by the header, or the payload length when misaligned
}

func (e *DecodeError) Error() string {
	switch {
	case errors.Is(e.Err, ErrTruncated):
		return fmt.Sprintf("%v: tag %d needs %d bytes, have %d", e.Err, e.Tag, e.Need, e.Size)
	case errors.Is(e.Err, ErrMisalignedPayload):
		return fmt.Sprintf("%v: %d payload bytes is not a multiple of %d", e.Err, e.Need, PointSize)
	default:
		return fmt.Sprintf("%v: tag %d (%d bytes)", e.Err, e.Tag, e.Size)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses one frame.
func Decode(frame []byte) (Update, error) {
	if len(frame) < 1 {
		return Update{}, &DecodeError{Err: ErrTruncated, Size: 0, Need: HeaderSize}
	}
	tag := int8(frame[0])
	kind := Kind(tag)

	need := HeaderSize
	switch kind {
	case KindClear, KindCloud:
	case KindCluster:
		need = ClusterHeaderSize
	default:
		return Update{}, &DecodeError{Err: ErrUnknownType, Tag: tag, Size: len(frame)}
	}
	if len(frame) < need {
		return Update{}, &DecodeError{Err: ErrTruncated, Tag: tag, Size: len(frame), Need: need}
	}

	u := Update{
		ObjectID: int32(binary.LittleEndian.Uint32(frame[1:5])),
		Kind:     kind,
	}
	if kind == KindClear {
		return u, nil
	}

	if kind == KindCluster {
		info := &ClusterInfo{State: ClusterState(int32(binary.LittleEndian.Uint32(frame[5:9])))}
		m := frame[9:ClusterHeaderSize]
		info.Metrics = ClusterMetrics{
			Centroid: readVec3(m[0:]),
			Velocity: readVec3(m[12:]),
			BoxMin:   readVec3(m[24:]),
			BoxMax:   readVec3(m[36:]),
		}
		u.Cluster = info
	}

	payload := frame[need:]
	if len(payload)%PointSize != 0 {
		return Update{}, &DecodeError{Err: ErrMisalignedPayload, Tag: tag, Size: len(frame), Need: len(payload)}
	}
	n := len(payload) / PointSize
	u.Points = make([]Vec3, n)
	for i := 0; i < n; i++ {
		u.Points[i] = readVec3(payload[i*PointSize:])
	}
	return u, nil
}

// PeekHeader reads the type tag and object id without decoding the body.
// It fails only when the frame is shorter than the common header.
func PeekHeader(frame []byte) (Kind, int32, error) {
	if len(frame) < HeaderSize {
		tag := int8(0)
		if len(frame) > 0 {
			tag = int8(frame[0])
		}
		return 0, 0, &DecodeError{Err: ErrTruncated, Tag: tag, Size: len(frame), Need: HeaderSize}
	}
	return Kind(int8(frame[0])), int32(binary.LittleEndian.Uint32(frame[1:5])), nil
}

func readVec3(b []byte) Vec3 {
	return Vec3{
		X: math.Float32frombits(binary.LittleEndian.Uint32(b[0:4])),
		Y: math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])),
		Z: math.Float32frombits(binary.LittleEndian.Uint32(b[8:12])),
	}
}
