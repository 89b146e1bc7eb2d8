package wire

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// rawFrame builds a frame by hand so decoder tests do not depend on Encode.
func rawFrame(tag int8, id int32, ints []int32, floats ...float32) []byte {
	b := []byte{byte(tag)}
	b = binary.LittleEndian.AppendUint32(b, uint32(id))
	for _, v := range ints {
		b = binary.LittleEndian.AppendUint32(b, uint32(v))
	}
	for _, f := range floats {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
	}
	return b
}

func TestDecode_Cloud(t *testing.T) {
	frame := rawFrame(0, 7, nil, 1, 2, 3, 4, 5, 6)

	got, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := Update{
		ObjectID: 7,
		Kind:     KindCloud,
		Points:   []Vec3{{1, 2, 3}, {4, 5, 6}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_CloudWithoutPoints(t *testing.T) {
	got, err := Decode(rawFrame(0, 12, nil))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ObjectID != 12 || got.Kind != KindCloud || len(got.Points) != 0 {
		t.Errorf("unexpected update: %+v", got)
	}
	if got.Cluster != nil {
		t.Error("cloud frame should not carry a cluster block")
	}
}

func TestDecode_Cluster(t *testing.T) {
	metrics := []float32{
		1, 2, 3, // centroid
		0.5, 0, -0.5, // velocity
		0, 1, 2, // box min
		2, 3, 4, // box max
	}
	floats := append(metrics, 9, 8, 7)
	frame := rawFrame(1, 3, []int32{int32(ClusterStable)}, floats...)

	got, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := Update{
		ObjectID: 3,
		Kind:     KindCluster,
		Cluster: &ClusterInfo{
			State: ClusterStable,
			Metrics: ClusterMetrics{
				Centroid: Vec3{1, 2, 3},
				Velocity: Vec3{0.5, 0, -0.5},
				BoxMin:   Vec3{0, 1, 2},
				BoxMax:   Vec3{2, 3, 4},
			},
		},
		Points: []Vec3{{9, 8, 7}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}
	if got.Leaving() {
		t.Error("stable cluster should not report Leaving")
	}
}

func TestDecode_ClusterLeavingNoPoints(t *testing.T) {
	frame := rawFrame(1, 3, []int32{int32(ClusterLeaving)}, make([]float32, 12)...)
	if len(frame) != ClusterHeaderSize {
		t.Fatalf("frame length = %d, want %d", len(frame), ClusterHeaderSize)
	}

	got, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.Leaving() {
		t.Errorf("expected leaving cluster, got %v", got)
	}
	if len(got.Points) != 0 {
		t.Errorf("expected no points, got %d", len(got.Points))
	}
}

func TestDecode_Clear(t *testing.T) {
	got, err := Decode(rawFrame(-1, 99, nil))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != KindClear {
		t.Errorf("Kind = %v, want clear", got.Kind)
	}

	// Trailing bytes after a Clear header are ignored.
	if _, err := Decode(append(rawFrame(-1, 0, nil), 1, 2, 3)); err != nil {
		t.Errorf("Clear with trailing bytes: %v", err)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"empty", nil, ErrTruncated},
		{"short header", []byte{0, 1, 0}, ErrTruncated},
		{"short clear", []byte{0xFF, 0}, ErrTruncated},
		{"short cluster block", rawFrame(1, 1, []int32{1}, 1, 2, 3), ErrTruncated},
		{"cloud partial point", append(rawFrame(0, 1, nil, 1, 2, 3), 0, 0, 0, 0), ErrMisalignedPayload},
		{"cloud two floats", rawFrame(0, 1, nil, 1, 2), ErrMisalignedPayload},
		{"cluster partial point", append(rawFrame(1, 1, []int32{1}, make([]float32, 12)...), 1), ErrMisalignedPayload},
		{"debug box tag", rawFrame(2, 1, nil), ErrUnknownType},
		{"unknown tag", rawFrame(42, 1, nil), ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.frame)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Decode error = %v, want %v", err, tt.want)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("error %T is not a *DecodeError", err)
			}
			if de.Size != len(tt.frame) {
				t.Errorf("DecodeError.Size = %d, want %d", de.Size, len(tt.frame))
			}
			if de.Error() == "" {
				t.Error("empty error message")
			}
		})
	}
}

func TestDecode_TruncatedReportsNeed(t *testing.T) {
	_, err := Decode(rawFrame(1, 5, nil))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	if de.Need != ClusterHeaderSize {
		t.Errorf("Need = %d, want %d", de.Need, ClusterHeaderSize)
	}
	if de.Tag != 1 {
		t.Errorf("Tag = %d, want 1", de.Tag)
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	points := make([]Vec3, 0, 50)
	for i := 0; i < 50; i++ {
		f := float32(i)
		points = append(points, Vec3{f, -f, f * 0.25})
	}

	tests := []Update{
		{ObjectID: 0, Kind: KindCloud, Points: points},
		{ObjectID: -4, Kind: KindCloud, Points: []Vec3{}},
		{
			ObjectID: 1 << 30,
			Kind:     KindCluster,
			Cluster: &ClusterInfo{
				State: ClusterGhost,
				Metrics: ClusterMetrics{
					Centroid: Vec3{1, 1, 1},
					Velocity: Vec3{-2, 0, 3},
					BoxMin:   Vec3{0, 0, 0},
					BoxMax:   Vec3{2, 2, 2},
				},
			},
			Points: points[:3],
		},
		{ObjectID: 0, Kind: KindClear},
	}

	for _, in := range tests {
		t.Run(in.String(), func(t *testing.T) {
			frame, err := Encode(in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			out, err := Decode(frame)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := cmp.Diff(in, out, cmp.Comparer(func(a, b []Vec3) bool {
				if len(a) != len(b) {
					return false
				}
				for i := range a {
					if a[i] != b[i] {
						return false
					}
				}
				return true
			})); diff != "" {
				t.Errorf("round trip mismatch (-in +out):\n%s", diff)
			}
		})
	}
}

func TestEncode_Layout(t *testing.T) {
	frame, err := Encode(Update{ObjectID: 7, Kind: KindCloud, Points: []Vec3{{1, 2, 3}, {4, 5, 6}}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := rawFrame(0, 7, nil, 1, 2, 3, 4, 5, 6)
	if diff := cmp.Diff(want, frame); diff != "" {
		t.Errorf("frame bytes mismatch (-want +got):\n%s", diff)
	}

	if got := ClearFrame(); cmp.Diff(rawFrame(-1, 0, nil), got) != "" {
		t.Errorf("ClearFrame() = %v", got)
	}
}

func TestEncode_Errors(t *testing.T) {
	if _, err := Encode(Update{ObjectID: 1, Kind: KindCluster}); err == nil {
		t.Error("expected error for cluster without cluster block")
	}
	if _, err := Encode(Update{ObjectID: 1, Kind: Kind(3)}); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestPeekHeader(t *testing.T) {
	kind, id, err := PeekHeader(rawFrame(1, 42, []int32{0}))
	if err != nil {
		t.Fatalf("PeekHeader: %v", err)
	}
	if kind != KindCluster || id != 42 {
		t.Errorf("PeekHeader = (%v, %d), want (cluster, 42)", kind, id)
	}

	if _, _, err := PeekHeader([]byte{0, 1}); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

func TestClusterMetricsBox(t *testing.T) {
	m := ClusterMetrics{BoxMin: Vec3{-1, 0, 2}, BoxMax: Vec3{1, 4, 3}}
	if got := m.BoxCenter(); got != (Vec3{0, 2, 2.5}) {
		t.Errorf("BoxCenter() = %v", got)
	}
	if got := m.BoxSize(); got != (Vec3{2, 4, 1}) {
		t.Errorf("BoxSize() = %v", got)
	}
}

func TestStrings(t *testing.T) {
	if KindCluster.String() != "cluster" || Kind(9).String() != "kind(9)" {
		t.Error("unexpected Kind strings")
	}
	if ClusterLeaving.String() != "leaving" || ClusterState(7).String() != "state(7)" {
		t.Error("unexpected ClusterState strings")
	}
	if ClusterState(7).Valid() || !ClusterGhost.Valid() {
		t.Error("unexpected Valid results")
	}
}
