// ABOUTME: In-memory Link implementation for tests
// ABOUTME: Records sends, lets tests inject packets and script the node directory

package mesh

import (
	"fmt"
	"sync"
)

// SentFrame is one recorded Send call.
type SentFrame struct {
	Dest string
	Text string
}

// MockLink implements Link and Reconnector in memory for tests.
type MockLink struct {
	mu         sync.Mutex
	packets    chan *Packet
	sent       []SentFrame
	nodes      []NodeEntry
	myNum      uint32
	myLong     string
	myShort    string
	myOK       bool
	sendErr    error
	closed     bool
	reconnects int
	nextID     uint32
}

// NewMockLink creates a mock link with a buffered inbound channel.
func NewMockLink() *MockLink {
	return &MockLink{
		packets: make(chan *Packet, 64),
	}
}

// Inject delivers a packet on the direct receive path.
func (m *MockLink) Inject(pkt *Packet) {
	m.packets <- pkt
}

// InjectText delivers a canonical text packet from the given sender,
// with a fresh packet id the way the radio assigns one.
func (m *MockLink) InjectText(fromID, text string) {
	num, _ := ParseID(fromID)
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.mu.Unlock()
	m.packets <- &Packet{
		ID:      id,
		From:    num,
		FromID:  fromID,
		Portnum: portTextMessage,
		Payload: []byte(text),
		Text:    text,
	}
}

// SetNodes replaces the scripted node directory.
func (m *MockLink) SetNodes(nodes []NodeEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = nodes
}

// SetMyInfo scripts the attached node identity.
func (m *MockLink) SetMyInfo(num uint32, longName, shortName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.myNum, m.myLong, m.myShort, m.myOK = num, longName, shortName, true
}

// FailSends makes subsequent Send calls return err (nil restores success).
func (m *MockLink) FailSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// Sent returns a copy of all recorded sends.
func (m *MockLink) Sent() []SentFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentFrame, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentTo returns the texts sent to one destination, in order.
func (m *MockLink) SentTo(dest string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, f := range m.sent {
		if f.Dest == dest {
			out = append(out, f.Text)
		}
	}
	return out
}

// Reset discards recorded sends.
func (m *MockLink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

// Reconnects reports how many times Reconnect was called.
func (m *MockLink) Reconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnects
}

func (m *MockLink) Send(dest, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("link closed")
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, SentFrame{Dest: dest, Text: text})
	return nil
}

func (m *MockLink) Packets() <-chan *Packet {
	return m.packets
}

func (m *MockLink) Nodes() []NodeEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]NodeEntry, len(m.nodes))
	copy(out, m.nodes)
	return out
}

func (m *MockLink) MyInfo() (uint32, string, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.myNum, m.myLong, m.myShort, m.myOK
}

func (m *MockLink) Reconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects++
	return nil
}

func (m *MockLink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.packets)
	}
	return nil
}

var (
	_ Link        = (*MockLink)(nil)
	_ Reconnector = (*MockLink)(nil)
)
