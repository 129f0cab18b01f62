// ABOUTME: Serial radio link: device probing, stream framing, TX pacing, node directory
// ABOUTME: Implements Link and Reconnector over go.bug.st/serial

package mesh

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/ratelimit"
)

const (
	// Stream framing markers for the device client API.
	frameStart1 = 0x94
	frameStart2 = 0xc3

	// maxFrameLen bounds one framed payload; longer lengths mean we lost
	// sync and should scan for the next marker.
	maxFrameLen = 512

	serialBaud = 115200

	// wakeLen is how many wake bytes precede the first real frame.
	wakeLen = 32
)

// SerialLink drives the attached radio over a serial port.
type SerialLink struct {
	logger  *slog.Logger
	bus     *PacketBus
	limiter ratelimit.Limiter

	device  string // configured; "auto" probes
	packets chan *Packet
	done    chan struct{}

	mu      sync.Mutex // guards port, resolvd, gen, nextID, closed
	port    serial.Port
	resolvd string
	gen     int
	nextID  uint32
	closed  bool

	readers sync.WaitGroup

	dirMu sync.RWMutex
	nodes map[uint32]*NodeEntry
	myNum uint32
	myOK  bool
}

// OpenSerial opens the radio on the configured device ("auto" probes the
// usual candidates) and starts the read loop. txGap is the minimum
// interval between outbound frames; bus receives the pub/sub copy of
// every inbound packet.
func OpenSerial(device string, txGap time.Duration, bus *PacketBus, logger *slog.Logger) (*SerialLink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if txGap <= 0 {
		txGap = time.Second
	}

	l := &SerialLink{
		logger:  logger.With("component", "link"),
		bus:     bus,
		limiter: ratelimit.New(1, ratelimit.Per(txGap)),
		device:  device,
		packets: make(chan *Packet, 16),
		done:    make(chan struct{}),
		nextID:  1,
		nodes:   make(map[uint32]*NodeEntry),
	}

	l.mu.Lock()
	err := l.connectLocked()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return l, nil
}

// serialCandidates lists probe paths in preference order: stable by-id
// symlinks first, then ACM, then USB.
func serialCandidates() []string {
	var out []string
	for _, pattern := range []string{"/dev/serial/by-id/*", "/dev/ttyACM*", "/dev/ttyUSB*"} {
		matches, _ := filepath.Glob(pattern)
		sort.Strings(matches)
		out = append(out, matches...)
	}
	return out
}

// connectLocked probes and opens a port, then starts a reader for the new
// connection generation. Caller holds mu.
func (l *SerialLink) connectLocked() error {
	var candidates []string
	if l.device != "" && l.device != "auto" {
		candidates = append(candidates, l.device)
	}
	candidates = append(candidates, serialCandidates()...)

	var lastErr error
	for _, cand := range candidates {
		port, err := serial.Open(cand, &serial.Mode{BaudRate: serialBaud})
		if err != nil {
			lastErr = err
			continue
		}

		l.port = port
		l.resolvd = cand
		l.gen++

		if err := l.wakeLocked(); err != nil {
			port.Close()
			l.port = nil
			lastErr = err
			continue
		}

		l.readers.Add(1)
		go l.readLoop(port, l.gen)

		l.logger.Info("radio connected", "device", cand)
		return nil
	}

	if lastErr != nil {
		return fmt.Errorf("opening radio (tried %d candidates): %w", len(candidates), lastErr)
	}
	return fmt.Errorf("no serial candidates found")
}

// wakeLocked sends the wake preamble and asks the radio for its config
// and node directory. Caller holds mu with port set.
func (l *SerialLink) wakeLocked() error {
	wake := make([]byte, wakeLen)
	for i := range wake {
		wake[i] = frameStart2
	}
	if _, err := l.port.Write(wake); err != nil {
		return fmt.Errorf("writing wake preamble: %w", err)
	}
	time.Sleep(100 * time.Millisecond)

	nonce := l.nextID
	l.nextID++
	if _, err := l.port.Write(frameBytes(encodeWantConfig(nonce))); err != nil {
		return fmt.Errorf("requesting config: %w", err)
	}
	return nil
}

// frameBytes wraps a payload in the stream framing.
func frameBytes(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	out[0] = frameStart1
	out[1] = frameStart2
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload)))
	copy(out[4:], payload)
	return out
}

// readLoop consumes framed payloads until the port dies or the link
// closes. A stale generation (after reconnect) exits quietly.
func (l *SerialLink) readLoop(port serial.Port, gen int) {
	defer l.readers.Done()

	r := bufio.NewReader(port)
	for {
		payload, err := readFrame(r)
		if err != nil {
			if l.currentGen() == gen && !l.isClosed() {
				l.logger.Warn("radio read failed", "error", err)
			}
			return
		}

		ev, err := decodeFromRadio(payload)
		if err != nil {
			l.logger.Debug("undecodable frame dropped", "error", err, "len", len(payload))
			continue
		}

		switch {
		case ev.Packet != nil:
			l.dispatch(ev.Packet)
		case ev.Node != nil:
			l.updateNode(ev.Node)
		case ev.MyNum != nil:
			l.setMyNum(*ev.MyNum)
		}
	}
}

// readFrame scans to the next frame marker and returns its payload.
func readFrame(r *bufio.Reader) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != frameStart1 {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != frameStart2 {
			continue
		}

		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, err
		}
		n := int(binary.BigEndian.Uint16(lenBuf[:]))
		if n > maxFrameLen {
			// Lost sync; scan for the next marker.
			continue
		}

		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}

// dispatch feeds one inbound packet to both receive paths.
func (l *SerialLink) dispatch(pkt *Packet) {
	if l.bus != nil {
		l.bus.Publish(TopicReceive, pkt)
		if pkt.Text != "" {
			l.bus.Publish(TopicReceiveText, pkt)
		}
	}
	select {
	case l.packets <- pkt:
	case <-l.done:
	}
}

func (l *SerialLink) updateNode(node *NodeEntry) {
	l.dirMu.Lock()
	l.nodes[node.Num] = node
	l.dirMu.Unlock()
}

func (l *SerialLink) setMyNum(num uint32) {
	l.dirMu.Lock()
	l.myNum = num
	l.myOK = true
	l.dirMu.Unlock()
	l.logger.Info("radio identity", "node", FormatNum(num))
}

func (l *SerialLink) currentGen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen
}

func (l *SerialLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Send transmits one text frame, pacing transmissions to the configured
// gap. Broadcast goes unacked; direct sends request an ack from the
// radio but do not wait for it.
func (l *SerialLink) Send(dest, text string) error {
	destNum := broadcastNum
	wantAck := false
	if dest != Broadcast {
		n, err := ParseID(dest)
		if err != nil {
			return err
		}
		destNum = n
		wantAck = true
	}

	l.limiter.Take()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.port == nil {
		return fmt.Errorf("link closed")
	}

	id := l.nextID
	l.nextID++
	if _, err := l.port.Write(frameBytes(encodeTextPacket(destNum, id, text, wantAck))); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}

	l.logger.Debug("sent", "to", dest, "len", len(text))
	return nil
}

// Packets returns the direct receive path.
func (l *SerialLink) Packets() <-chan *Packet {
	return l.packets
}

// Nodes returns a snapshot of the node directory, sorted by node number.
func (l *SerialLink) Nodes() []NodeEntry {
	l.dirMu.RLock()
	out := make([]NodeEntry, 0, len(l.nodes))
	for _, n := range l.nodes {
		out = append(out, *n)
	}
	l.dirMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out
}

// MyInfo returns the attached node's number and names once the radio has
// reported them.
func (l *SerialLink) MyInfo() (uint32, string, string, bool) {
	l.dirMu.RLock()
	defer l.dirMu.RUnlock()
	if !l.myOK {
		return 0, "", "", false
	}
	longName, shortName := "-", "-"
	if n, ok := l.nodes[l.myNum]; ok {
		if n.LongName != "" {
			longName = n.LongName
		}
		if n.ShortName != "" {
			shortName = n.ShortName
		}
	}
	return l.myNum, longName, shortName, true
}

// Reconnect drops the current port and probes again. Used by the
// watchdog when RX goes silent; both receive paths resume on the new
// connection.
func (l *SerialLink) Reconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("link closed")
	}

	if l.port != nil {
		l.port.Close()
		l.port = nil
	}
	l.logger.Info("reconnecting radio", "device", l.device)
	return l.connectLocked()
}

// Close stops the reader and releases the port. The packets channel is
// closed after the reader exits.
func (l *SerialLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	if l.port != nil {
		l.port.Close()
		l.port = nil
	}
	l.mu.Unlock()

	l.readers.Wait()
	close(l.packets)
	l.logger.Info("radio link closed")
	return nil
}

// Ensure SerialLink satisfies the contracts the gateway relies on.
var (
	_ Link        = (*SerialLink)(nil)
	_ Reconnector = (*SerialLink)(nil)
)
