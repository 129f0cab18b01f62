// Package dmqueue queues direct messages by resolved node address and
// drains a small batch whenever the recipient is next heard on the mesh.
package dmqueue
