// Package peersync gossips recent posts between cooperating gateways.
//
// The protocol is five ASCII frame kinds behind the #SYNC sentinel:
// INV advertises recent post ids, GET requests one, and POST/PART/END
// carry a chunked transfer identified by an opaque UID. Frames are
// accepted only from nodes in the peers table. Application is idempotent:
// the applied_uids set gates every transfer, so replays and duplicate
// pushes are no-ops.
//
// Chunks are concatenated in arrival order and the expected total is
// refreshed from each PART, trading strict ordering for resilience to a
// lost header. Peers send parts back-to-back over a serialized link, so
// reorder is rare in practice.
package peersync
