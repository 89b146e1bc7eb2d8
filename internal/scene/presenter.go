package scene

import "github.com/benkuper/Pleiades/internal/wire"

// Handle is an opaque renderable reference issued by a Presenter. The
// Registry stores it only to hand it back on update and removal.
type Handle any

// Presenter mirrors object lifecycle into a drawable representation. Hooks
// are called synchronously from the Registry's single writer and must not
// block.
type Presenter interface {
	OnCreate(id int32, kind wire.Kind, g Geometry) Handle
	OnUpdate(h Handle, g Geometry)
	OnRemove(h Handle)
}

// NopPresenter discards every hook. Useful for headless runs.
type NopPresenter struct{}

func (NopPresenter) OnCreate(int32, wire.Kind, Geometry) Handle { return nil }
func (NopPresenter) OnUpdate(Handle, Geometry)                  {}
func (NopPresenter) OnRemove(Handle)                            {}
