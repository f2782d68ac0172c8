package transport

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// frameType distinguishes the session-level datagrams.
type frameType uint8

const (
	frameAnnounce frameType = iota + 1
	frameInvite
	frameAccept
	frameData
	frameBye
)

func (t frameType) String() string {
	switch t {
	case frameAnnounce:
		return "announce"
	case frameInvite:
		return "invite"
	case frameAccept:
		return "accept"
	case frameData:
		return "data"
	case frameBye:
		return "bye"
	default:
		return fmt.Sprintf("frame(%d)", uint8(t))
	}
}

const (
	fieldProtocol protowire.Number = 1
	fieldType     protowire.Number = 2
	fieldSender   protowire.Number = 3
	fieldName     protowire.Number = 4
	fieldService  protowire.Number = 5
	fieldPayload  protowire.Number = 6
)

// maxDatagram bounds both encoded frames and receive buffers.
const maxDatagram = 8192

var errBadFrame = errors.New("transport: malformed frame")

type frame struct {
	Protocol uint64
	Type     frameType
	Sender   PeerID
	Name     string
	Service  string
	Payload  []byte
}

func (f frame) marshal() []byte {
	b := make([]byte, 0, 64+len(f.Name)+len(f.Service)+len(f.Payload))
	b = protowire.AppendTag(b, fieldProtocol, protowire.VarintType)
	b = protowire.AppendVarint(b, f.Protocol)
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Type))
	b = protowire.AppendTag(b, fieldSender, protowire.BytesType)
	b = protowire.AppendBytes(b, f.Sender[:])
	if f.Name != "" {
		b = protowire.AppendTag(b, fieldName, protowire.BytesType)
		b = protowire.AppendString(b, f.Name)
	}
	b = protowire.AppendTag(b, fieldService, protowire.BytesType)
	b = protowire.AppendString(b, f.Service)
	if len(f.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Payload)
	}
	return b
}

// unmarshalFrame parses a datagram. Unknown fields are skipped so newer
// peers can add fields without breaking discovery.
func unmarshalFrame(b []byte) (frame, error) {
	var f frame
	var haveSender bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return frame{}, fmt.Errorf("%w: %v", errBadFrame, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case (num == fieldProtocol || num == fieldType) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return frame{}, fmt.Errorf("%w: %v", errBadFrame, protowire.ParseError(n))
			}
			if num == fieldProtocol {
				f.Protocol = v
			} else {
				f.Type = frameType(v)
			}
			b = b[n:]
		case (num == fieldSender || num == fieldName || num == fieldService || num == fieldPayload) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return frame{}, fmt.Errorf("%w: %v", errBadFrame, protowire.ParseError(n))
			}
			switch num {
			case fieldSender:
				if len(v) != len(f.Sender) {
					return frame{}, fmt.Errorf("%w: sender id is %d bytes", errBadFrame, len(v))
				}
				copy(f.Sender[:], v)
				haveSender = true
			case fieldName:
				f.Name = string(v)
			case fieldService:
				f.Service = string(v)
			case fieldPayload:
				f.Payload = append([]byte(nil), v...)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return frame{}, fmt.Errorf("%w: %v", errBadFrame, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if !haveSender || f.Type < frameAnnounce || f.Type > frameBye {
		return frame{}, fmt.Errorf("%w: missing sender or type", errBadFrame)
	}
	return f, nil
}
