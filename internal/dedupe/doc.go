// Package dedupe provides a bounded FIFO of recent packet discriminators,
// used to drop the second copy of packets the transport delivers on both
// receive paths.
package dedupe
