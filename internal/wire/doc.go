// Package wire decodes and encodes the binary frames streamed by a Pleiades
// "Websocket Out" node.
//
// One websocket binary message carries one frame: the full current state of
// one object, or a control signal. Decoding is pure and allocation-bounded by
// the frame size; this package keeps no state and does no logging.
//
/*
FRAME STRUCTURE (little-endian):
├── Header (5 bytes)
│   ├── byte 0      type tag, int8: -1 = Clear, 0 = Cloud, 1 = Cluster
│   └── bytes 1-4   object id, int32 (present but ignored for Clear)
├── Cluster block (52 bytes, Cluster only)
│   ├── bytes 5-8   cluster state, int32: 0 entered, 1 stable, 2 leaving, 3 ghost
│   └── bytes 9-56  12 × float32: centroid.xyz velocity.xyz boxMin.xyz boxMax.xyz
└── Points (remainder) N × (x, y, z float32), from offset 5 (Cloud) or 57 (Cluster)

Tags 2..5 are reserved by the server for debug shapes and are rejected with
ErrUnknownType. Clear frames ignore anything after the header.
*/
package wire
