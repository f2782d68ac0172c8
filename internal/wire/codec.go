package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/colocate/internal/pose"
)

const (
	fieldKind     protowire.Number = 1
	fieldUnixTime protowire.Number = 2
	fieldRight    protowire.Number = 3
	fieldLeft     protowire.Number = 4
	fieldText     protowire.Number = 5
)

const matrixBytes = 16 * 4

// Encode serialises m. Non-finite matrices, invalid text and unknown kinds
// are rejected so nothing undecodable reaches the transport.
func Encode(m Message) ([]byte, error) {
	b := protowire.AppendTag(nil, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Kind))

	switch m.Kind {
	case KindGreeting, KindChatText:
		if !validText(m.Text) {
			return nil, ErrBadText
		}
		if m.Kind == KindChatText && m.Text == "" {
			return nil, fmt.Errorf("%w: chat text", ErrMissingField)
		}
		b = appendText(b, m.Text)
	case KindSingleFinger:
		if !m.Single.Right.IsFinite() {
			return nil, ErrBadMatrix
		}
		b = appendUnixTime(b, m.Single.UnixTime)
		b = appendMatrix(b, fieldRight, m.Single.Right)
	case KindDualFinger:
		if !m.Dual.Left.IsFinite() || !m.Dual.Right.IsFinite() {
			return nil, ErrBadMatrix
		}
		b = appendUnixTime(b, m.Dual.UnixTime)
		b = appendMatrix(b, fieldRight, m.Dual.Right)
		b = appendMatrix(b, fieldLeft, m.Dual.Left)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, m.Kind)
	}
	return b, nil
}

func appendUnixTime(b []byte, ms int64) []byte {
	b = protowire.AppendTag(b, fieldUnixTime, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(ms))
}

func appendText(b []byte, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, fieldText, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMatrix(b []byte, num protowire.Number, t pose.Transform) []byte {
	packed := make([]byte, 0, matrixBytes)
	for _, v := range t {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// fields collects the raw values of one record while checking for repeats.
type fields struct {
	seen     map[protowire.Number]bool
	kind     uint64
	unixTime int64
	right    []byte
	left     []byte
	text     []byte
}

func (f *fields) mark(num protowire.Number) error {
	if f.seen[num] {
		return fmt.Errorf("%w: %d", ErrDuplicateField, num)
	}
	f.seen[num] = true
	return nil
}

// Decode parses a payload produced by Encode.
func Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return Message{}, ErrEmpty
	}

	f := fields{seen: make(map[protowire.Number]bool, 5)}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, fmt.Errorf("wire: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Message{}, fmt.Errorf("wire: bad kind: %w", protowire.ParseError(n))
			}
			if err := f.mark(num); err != nil {
				return Message{}, err
			}
			f.kind, b = v, b[n:]
		case num == fieldUnixTime && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Message{}, fmt.Errorf("wire: bad unix_time: %w", protowire.ParseError(n))
			}
			if err := f.mark(num); err != nil {
				return Message{}, err
			}
			f.unixTime, b = protowire.DecodeZigZag(v), b[n:]
		case (num == fieldRight || num == fieldLeft || num == fieldText) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Message{}, fmt.Errorf("wire: bad field %d: %w", num, protowire.ParseError(n))
			}
			if err := f.mark(num); err != nil {
				return Message{}, err
			}
			switch num {
			case fieldRight:
				f.right = v
			case fieldLeft:
				f.left = v
			default:
				f.text = v
			}
			b = b[n:]
		default:
			return Message{}, fmt.Errorf("%w: field %d type %d", ErrUnexpectedField, num, typ)
		}
	}

	return f.message()
}

func (f *fields) message() (Message, error) {
	if !f.seen[fieldKind] {
		return Message{}, fmt.Errorf("%w: kind", ErrMissingField)
	}

	m := Message{Kind: Kind(f.kind)}
	if uint64(m.Kind) != f.kind {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownKind, f.kind)
	}

	switch m.Kind {
	case KindGreeting, KindChatText:
		if f.seen[fieldRight] || f.seen[fieldLeft] {
			return Message{}, fmt.Errorf("wire: %s carries a matrix", m.Kind)
		}
		m.Text = string(f.text)
		if !validText(m.Text) {
			return Message{}, ErrBadText
		}
		if m.Kind == KindChatText && m.Text == "" {
			return Message{}, fmt.Errorf("%w: chat text", ErrMissingField)
		}
	case KindSingleFinger:
		if !f.seen[fieldUnixTime] || !f.seen[fieldRight] {
			return Message{}, fmt.Errorf("%w: single finger needs unix_time and right", ErrMissingField)
		}
		if f.seen[fieldLeft] {
			return Message{}, fmt.Errorf("wire: single finger carries a left matrix")
		}
		right, err := consumeMatrix(f.right)
		if err != nil {
			return Message{}, err
		}
		m.Single = SingleFingerCoordinate{UnixTime: f.unixTime, Right: right}
	case KindDualFinger:
		if !f.seen[fieldUnixTime] || !f.seen[fieldRight] || !f.seen[fieldLeft] {
			return Message{}, fmt.Errorf("%w: dual finger needs unix_time, left and right", ErrMissingField)
		}
		right, err := consumeMatrix(f.right)
		if err != nil {
			return Message{}, err
		}
		left, err := consumeMatrix(f.left)
		if err != nil {
			return Message{}, err
		}
		m.Dual = DualFingerCoordinate{UnixTime: f.unixTime, Left: left, Right: right}
	default:
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownKind, f.kind)
	}
	return m, nil
}

func consumeMatrix(b []byte) (pose.Transform, error) {
	var t pose.Transform
	if len(b) != matrixBytes {
		return t, ErrBadMatrix
	}
	for i := range t {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return t, ErrBadMatrix
		}
		t[i] = math.Float32frombits(v)
		b = b[n:]
	}
	if !t.IsFinite() {
		return t, ErrBadMatrix
	}
	return t, nil
}
