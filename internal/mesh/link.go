// ABOUTME: Link interface and packet/node types for the attached radio
// ABOUTME: The rest of the gateway consumes the radio only through this contract

package mesh

// Broadcast is the destination for channel-wide sends.
const Broadcast = "^all"

// broadcastNum is the node number the radio treats as everyone.
const broadcastNum uint32 = 0xffffffff

// Packet is one inbound text-capable frame from the radio.
type Packet struct {
	// ID is the radio packet id; 0 when the radio did not assign one.
	ID uint32
	// From is the sender node number.
	From uint32
	// FromID is the sender in canonical "!hhhhhhhh" form when known.
	FromID string
	To      uint32
	Channel uint32
	Portnum uint32
	Payload []byte
	// Text is the decoded UTF-8 payload for text frames.
	Text   string
	RxTime uint32
}

// NodeEntry is one row of the radio's node directory.
type NodeEntry struct {
	Num       uint32
	ID        string // canonical "!hhhhhhhh"
	LongName  string
	ShortName string
	LastHeard int64 // UTC seconds, 0 when never heard
}

// Link is the radio transport consumed by the gateway core.
// Implementations serialize sends and enforce the transmit gap.
type Link interface {
	// Send transmits one text frame to a canonical "!hhhhhhhh" id or
	// Broadcast. Best effort: failures are logged by the caller and the
	// frame is dropped.
	Send(dest, text string) error
	// Packets is the direct receive path. The channel stays valid across
	// reconnects and closes when the link closes for good.
	Packets() <-chan *Packet
	// Nodes returns a snapshot of the radio's node directory.
	Nodes() []NodeEntry
	// MyInfo returns the attached node's number and names, if known yet.
	MyInfo() (num uint32, longName, shortName string, ok bool)
	Close() error
}

// Reconnector is implemented by links that can drop and re-establish the
// transport. The watchdog uses it when RX goes silent.
type Reconnector interface {
	Reconnect() error
}
