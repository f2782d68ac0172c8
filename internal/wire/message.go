package wire

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/banshee-data/colocate/internal/pose"
)

// Kind tags a payload.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindGreeting
	KindSingleFinger
	KindDualFinger
	KindChatText
)

func (k Kind) String() string {
	switch k {
	case KindGreeting:
		return "greeting"
	case KindSingleFinger:
		return "single_finger"
	case KindDualFinger:
		return "dual_finger"
	case KindChatText:
		return "chat_text"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MaxTextLen bounds greeting and chat text in bytes.
const MaxTextLen = 1024

var (
	ErrEmpty           = errors.New("wire: empty payload")
	ErrUnknownKind     = errors.New("wire: unknown message kind")
	ErrMissingField    = errors.New("wire: missing required field")
	ErrDuplicateField  = errors.New("wire: duplicate field")
	ErrUnexpectedField = errors.New("wire: unexpected field")
	ErrBadMatrix       = errors.New("wire: matrix must be 16 finite float32 values")
	ErrBadText         = errors.New("wire: text must be valid UTF-8 within MaxTextLen")
)

// SingleFingerCoordinate is the right index fingertip pose captured at
// UnixTime (milliseconds).
type SingleFingerCoordinate struct {
	UnixTime int64          `json:"unix_time"`
	Right    pose.Transform `json:"right"`
}

// DualFingerCoordinate is a simultaneous left and right index fingertip
// capture sharing one timestamp.
type DualFingerCoordinate struct {
	UnixTime int64          `json:"unix_time"`
	Left     pose.Transform `json:"left"`
	Right    pose.Transform `json:"right"`
}

// Message is a decoded payload. Exactly one of Single, Dual or Text is
// meaningful, selected by Kind.
type Message struct {
	Kind   Kind
	Single SingleFingerCoordinate
	Dual   DualFingerCoordinate
	Text   string
}

// Greeting builds a greeting message.
func Greeting(text string) Message {
	return Message{Kind: KindGreeting, Text: text}
}

// Chat builds a chat text message.
func Chat(text string) Message {
	return Message{Kind: KindChatText, Text: text}
}

// Single wraps a single-finger coordinate.
func Single(c SingleFingerCoordinate) Message {
	return Message{Kind: KindSingleFinger, Single: c}
}

// Dual wraps a dual-finger coordinate.
func Dual(c DualFingerCoordinate) Message {
	return Message{Kind: KindDualFinger, Dual: c}
}

func validText(s string) bool {
	return len(s) <= MaxTextLen && utf8.ValidString(s)
}
