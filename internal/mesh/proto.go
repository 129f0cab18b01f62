// ABOUTME: Minimal radio wire codec built on protowire, no generated stubs
// ABOUTME: Decodes only the FromRadio fields the gateway consumes and encodes text sends

package mesh

import (
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from the device client API schema. Only the handful the
// gateway reads are listed; unknown fields are skipped.
const (
	fromRadioPacket   = 2
	fromRadioMyInfo   = 3
	fromRadioNodeInfo = 4

	toRadioPacket       = 1
	toRadioWantConfigID = 3

	meshPacketFrom    = 1
	meshPacketTo      = 2
	meshPacketChannel = 3
	meshPacketDecoded = 4
	meshPacketID      = 6
	meshPacketRxTime  = 7
	meshPacketWantAck = 10

	dataPortnum = 1
	dataPayload = 2

	myInfoNodeNum = 1

	nodeInfoNum       = 1
	nodeInfoUser      = 2
	nodeInfoLastHeard = 5

	userID        = 1
	userLongName  = 2
	userShortName = 3
)

// portTextMessage is the text application port.
const portTextMessage = 1

// radioEvent is one decoded FromRadio frame. At most one field is set;
// none for frames the gateway does not read.
type radioEvent struct {
	Packet *Packet
	Node   *NodeEntry
	MyNum  *uint32
}

// fieldIter walks protobuf fields, exposing scalar and length-delimited
// accessors that tolerate both varint and fixed32 encodings for numeric
// fields (the schema uses both across versions).
type fieldIter struct {
	buf []byte
	num protowire.Number
	typ protowire.Type
	val uint64
	sub []byte
	err error
}

func (it *fieldIter) next() bool {
	if it.err != nil || len(it.buf) == 0 {
		return false
	}
	num, typ, n := protowire.ConsumeTag(it.buf)
	if n < 0 {
		it.err = protowire.ParseError(n)
		return false
	}
	it.buf = it.buf[n:]
	it.num, it.typ = num, typ
	it.val, it.sub = 0, nil

	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(it.buf)
		if n < 0 {
			it.err = protowire.ParseError(n)
			return false
		}
		it.val = v
		it.buf = it.buf[n:]
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(it.buf)
		if n < 0 {
			it.err = protowire.ParseError(n)
			return false
		}
		it.val = uint64(v)
		it.buf = it.buf[n:]
	case protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(it.buf)
		if n < 0 {
			it.err = protowire.ParseError(n)
			return false
		}
		it.val = v
		it.buf = it.buf[n:]
	case protowire.BytesType:
		b, n := protowire.ConsumeBytes(it.buf)
		if n < 0 {
			it.err = protowire.ParseError(n)
			return false
		}
		it.sub = b
		it.buf = it.buf[n:]
	default:
		n := protowire.ConsumeFieldValue(it.num, typ, it.buf)
		if n < 0 {
			it.err = protowire.ParseError(n)
			return false
		}
		it.buf = it.buf[n:]
	}
	return true
}

// decodeFromRadio parses one FromRadio frame. Frames carrying nothing the
// gateway reads decode to an empty event.
func decodeFromRadio(buf []byte) (*radioEvent, error) {
	ev := &radioEvent{}
	it := &fieldIter{buf: buf}
	for it.next() {
		switch it.num {
		case fromRadioPacket:
			if it.sub != nil {
				pkt, err := decodeMeshPacket(it.sub)
				if err != nil {
					return nil, err
				}
				ev.Packet = pkt
			}
		case fromRadioMyInfo:
			if it.sub != nil {
				num, err := decodeMyInfo(it.sub)
				if err != nil {
					return nil, err
				}
				ev.MyNum = &num
			}
		case fromRadioNodeInfo:
			if it.sub != nil {
				node, err := decodeNodeInfo(it.sub)
				if err != nil {
					return nil, err
				}
				ev.Node = node
			}
		}
	}
	if it.err != nil {
		return nil, fmt.Errorf("decoding FromRadio: %w", it.err)
	}
	return ev, nil
}

func decodeMeshPacket(buf []byte) (*Packet, error) {
	pkt := &Packet{}
	it := &fieldIter{buf: buf}
	for it.next() {
		switch it.num {
		case meshPacketFrom:
			pkt.From = uint32(it.val)
		case meshPacketTo:
			pkt.To = uint32(it.val)
		case meshPacketChannel:
			pkt.Channel = uint32(it.val)
		case meshPacketID:
			pkt.ID = uint32(it.val)
		case meshPacketRxTime:
			pkt.RxTime = uint32(it.val)
		case meshPacketDecoded:
			if it.sub != nil {
				if err := decodeData(it.sub, pkt); err != nil {
					return nil, err
				}
			}
		}
	}
	if it.err != nil {
		return nil, fmt.Errorf("decoding MeshPacket: %w", it.err)
	}
	pkt.FromID = FormatNum(pkt.From)
	if pkt.Portnum == portTextMessage && len(pkt.Payload) > 0 {
		pkt.Text = decodeUTF8(pkt.Payload)
	}
	return pkt, nil
}

func decodeData(buf []byte, pkt *Packet) error {
	it := &fieldIter{buf: buf}
	for it.next() {
		switch it.num {
		case dataPortnum:
			pkt.Portnum = uint32(it.val)
		case dataPayload:
			if it.sub != nil {
				pkt.Payload = append([]byte(nil), it.sub...)
			}
		}
	}
	if it.err != nil {
		return fmt.Errorf("decoding Data: %w", it.err)
	}
	return nil
}

func decodeMyInfo(buf []byte) (uint32, error) {
	var num uint32
	it := &fieldIter{buf: buf}
	for it.next() {
		if it.num == myInfoNodeNum {
			num = uint32(it.val)
		}
	}
	if it.err != nil {
		return 0, fmt.Errorf("decoding MyNodeInfo: %w", it.err)
	}
	return num, nil
}

func decodeNodeInfo(buf []byte) (*NodeEntry, error) {
	node := &NodeEntry{}
	it := &fieldIter{buf: buf}
	for it.next() {
		switch it.num {
		case nodeInfoNum:
			node.Num = uint32(it.val)
		case nodeInfoLastHeard:
			node.LastHeard = int64(uint32(it.val))
		case nodeInfoUser:
			if it.sub != nil {
				if err := decodeUser(it.sub, node); err != nil {
					return nil, err
				}
			}
		}
	}
	if it.err != nil {
		return nil, fmt.Errorf("decoding NodeInfo: %w", it.err)
	}
	node.ID = FormatNum(node.Num)
	return node, nil
}

func decodeUser(buf []byte, node *NodeEntry) error {
	it := &fieldIter{buf: buf}
	for it.next() {
		switch it.num {
		case userLongName:
			if it.sub != nil {
				node.LongName = decodeUTF8(it.sub)
			}
		case userShortName:
			if it.sub != nil {
				node.ShortName = decodeUTF8(it.sub)
			}
		}
	}
	if it.err != nil {
		return fmt.Errorf("decoding User: %w", it.err)
	}
	return nil
}

// decodeUTF8 converts payload bytes to a string, substituting the
// replacement rune for invalid sequences.
func decodeUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out := make([]rune, 0, len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		out = append(out, r)
		b = b[size:]
	}
	return string(out)
}

// encodeTextPacket builds a ToRadio frame carrying one text message.
func encodeTextPacket(dest, id uint32, text string, wantAck bool) []byte {
	var data []byte
	data = protowire.AppendTag(data, dataPortnum, protowire.VarintType)
	data = protowire.AppendVarint(data, portTextMessage)
	data = protowire.AppendTag(data, dataPayload, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte(text))

	var pkt []byte
	pkt = protowire.AppendTag(pkt, meshPacketTo, protowire.Fixed32Type)
	pkt = protowire.AppendFixed32(pkt, dest)
	pkt = protowire.AppendTag(pkt, meshPacketDecoded, protowire.BytesType)
	pkt = protowire.AppendBytes(pkt, data)
	pkt = protowire.AppendTag(pkt, meshPacketID, protowire.Fixed32Type)
	pkt = protowire.AppendFixed32(pkt, id)
	if wantAck {
		pkt = protowire.AppendTag(pkt, meshPacketWantAck, protowire.VarintType)
		pkt = protowire.AppendVarint(pkt, 1)
	}

	var out []byte
	out = protowire.AppendTag(out, toRadioPacket, protowire.BytesType)
	out = protowire.AppendBytes(out, pkt)
	return out
}

// encodeWantConfig builds the ToRadio frame that asks the radio to dump
// its config and node directory after connect.
func encodeWantConfig(nonce uint32) []byte {
	var out []byte
	out = protowire.AppendTag(out, toRadioWantConfigID, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(nonce))
	return out
}
