// Package mesh is the radio link adapter.
//
// The gateway core consumes the radio only through the Link interface:
// send text, receive packets, read the node directory. SerialLink is the
// production implementation over a serial port, speaking the device
// client API stream framing and decoding just the fields the gateway
// reads. Inbound packets are delivered on both a direct channel and the
// PacketBus topics (the transport occasionally drops one path); intake
// deduplicates.
//
// The package also owns NodeId canonicalization, which every other
// component uses to normalize the heterogeneous identifier shapes the
// directory and packets carry.
package mesh
