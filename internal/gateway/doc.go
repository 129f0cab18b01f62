// Package gateway wires the components into a running service: the
// store, the radio link and its pub/sub bus, packet intake, the command
// dispatcher, the peer-sync engine, and the supervisor loops. One stop
// signal winds everything down; the link closes last.
package gateway
