// Package scene owns the set of live objects reconstructed from the frame
// stream.
//
// Responsibilities: object identity and lifecycle (create on first frame,
// replace geometry on later frames, remove on leave, clear or liveness
// timeout) and the Presenter hooks that mirror every lifecycle change to a
// renderer. Key types: Registry, LiveObject, Geometry, Presenter.
//
// The Registry has a single writer. It is driven by the stream connection
// loop and is not safe for concurrent use.
package scene
