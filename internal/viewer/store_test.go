package viewer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benkuper/Pleiades/internal/scene"
	"github.com/benkuper/Pleiades/internal/testutil"
	"github.com/benkuper/Pleiades/internal/wire"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// apply decodes frame and feeds it to reg, failing the test on error.
func apply(t *testing.T, reg *scene.Registry, frame []byte, now time.Time) {
	t.Helper()
	u, err := wire.Decode(frame)
	require.NoError(t, err)
	_, err = reg.ApplyUpdate(u, now)
	require.NoError(t, err)
}

func TestStore_TracksRegistry(t *testing.T) {
	store := NewStore()
	reg := scene.NewRegistry(store)

	apply(t, reg, testutil.CloudFrame(t, 4, 3), epoch)
	apply(t, reg, testutil.ClusterFrame(t, 2, wire.ClusterEntered, 5), epoch)
	require.Equal(t, 2, store.Len())

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, int32(2), list[0].ID, "ordered by id")
	assert.Equal(t, "cluster", list[0].Kind)
	assert.Equal(t, "entered", list[0].State)
	assert.Equal(t, 5, list[0].PointCount)
	assert.Nil(t, list[0].Points, "list omits points")
	require.NotNil(t, list[0].Box)
	assert.Equal(t, [3]float32{1.5, 1.5, 0}, list[0].Box.Min)
	assert.Equal(t, [3]float32{2, 2, 0}, *list[0].Centroid)
	assert.Equal(t, "cloud", list[1].Kind)
	assert.Nil(t, list[1].Box)

	apply(t, reg, testutil.ClusterFrame(t, 2, wire.ClusterStable, 2), epoch.Add(time.Millisecond))
	obj, ok := store.Get(2)
	require.True(t, ok)
	assert.Equal(t, "stable", obj.State)
	assert.Equal(t, 2, obj.Updates)
	assert.Len(t, obj.Points, 2)

	apply(t, reg, testutil.ClusterFrame(t, 2, wire.ClusterLeaving, 0), epoch.Add(2*time.Millisecond))
	_, ok = store.Get(2)
	assert.False(t, ok)

	reg.Clear()
	assert.Equal(t, 0, store.Len())
}

func TestStore_CopiesGeometry(t *testing.T) {
	store := NewStore()
	reg := scene.NewRegistry(store)
	apply(t, reg, testutil.CloudFrame(t, 1, 2), epoch)

	obj, _ := reg.Get(1)
	obj.Geometry.Points()[0].X = 99

	got, ok := store.Get(1)
	require.True(t, ok)
	assert.NotEqual(t, float32(99), got.Points[0][0])
}

func TestStore_IgnoresForeignHandles(t *testing.T) {
	store := NewStore()
	h := store.OnCreate(1, wire.KindCloud, &scene.Cloud{Vertices: testutil.Points(1, 1)})

	store.OnUpdate("not a handle", &scene.Cloud{})
	store.OnRemove(42)
	assert.Equal(t, 1, store.Len())

	store.OnRemove(h)
	assert.Equal(t, 0, store.Len())
}

// A handle from an object that has since been replaced must not remove the
// new object with the same id.
func TestStore_StaleHandle(t *testing.T) {
	store := NewStore()
	old := store.OnCreate(1, wire.KindCloud, &scene.Cloud{})
	store.OnCreate(1, wire.KindCloud, &scene.Cloud{Vertices: testutil.Points(1, 3)})

	store.OnRemove(old)
	obj, ok := store.Get(1)
	require.True(t, ok)
	assert.Equal(t, 3, obj.PointCount)
}
