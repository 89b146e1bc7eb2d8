// Package stream keeps a scene.Registry in sync with a remote frame
// producer over a persistent websocket.
//
// A Manager runs the Disconnected, Connecting, Connected state machine on
// a single goroutine: dial results, frames, close signals, the reconnect
// timer and the display tick are all selected in one loop, so the
// registry needs no locking. Every connection attempt carries a
// generation number and events from superseded attempts are dropped.
//
// Losing the connection empties the registry and arms a reconnect timer
// (one second by default). The first attempt is made immediately.
package stream
