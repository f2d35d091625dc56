// Package protocol defines the tx2tx wire messages and the length-delimited
// JSON framing used to exchange them over TCP.
package protocol

import (
	"encoding/json"
	"fmt"

	"tx2tx/internal/types"
)

// Version is the protocol version advertised in the hello handshake.
const Version = "2.1"

// MessageType identifies the kind of a protocol message.
type MessageType string

const (
	// TypeHello is the handshake, sent by both sides on connect
	TypeHello MessageType = "hello"

	// TypeScreenInfo carries client screen dimensions (informational)
	TypeScreenInfo MessageType = "screen_info"

	// TypeMouseEvent carries a forwarded pointer event
	TypeMouseEvent MessageType = "mouse_event"

	// TypeKeyEvent carries a forwarded keyboard event
	TypeKeyEvent MessageType = "key_event"

	// TypeKeepalive is a liveness probe in both directions
	TypeKeepalive MessageType = "keepalive"

	// TypeError carries a diagnostic string
	TypeError MessageType = "error"
)

// Message is the generic container for all protocol messages. The payload is
// decoded lazily against the type-specific payload structs below.
type Message struct {
	MsgType MessageType     `json:"msg_type"`
	Payload json.RawMessage `json:"payload"`
}

// ScreenSize is the optional screen block inside a hello payload.
type ScreenSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// HelloPayload is the handshake payload.
type HelloPayload struct {
	Name    string      `json:"name,omitempty"`
	Version string      `json:"version"`
	Screen  *ScreenSize `json:"screen,omitempty"`
}

// ScreenInfoPayload reports client screen dimensions.
type ScreenInfoPayload struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// MouseEventPayload is a forwarded pointer event. Coordinates are normalized
// to [0,1]; the pair (-1,-1) is the hide signal.
type MouseEventPayload struct {
	Event  string  `json:"event"` // "move", "press", "release", "scroll"
	NormX  float64 `json:"norm_x"`
	NormY  float64 `json:"norm_y"`
	Button int     `json:"button,omitempty"`
	Delta  int     `json:"delta,omitempty"`
}

// KeyEventPayload is a forwarded keyboard event.
type KeyEventPayload struct {
	Event   string `json:"event"` // "press", "release"
	Keycode uint32 `json:"keycode"`
	Keysym  uint32 `json:"keysym,omitempty"`
}

// ErrorPayload carries a protocol-level error string.
type ErrorPayload struct {
	Message string `json:"message"`
}

func mustMessage(t MessageType, payload interface{}) Message {
	raw, err := json.Marshal(payload)
	if err != nil {
		// All payload structs marshal cleanly; this indicates a programming
		// error rather than bad input.
		panic(fmt.Sprintf("protocol: marshal %s payload: %v", t, err))
	}
	return Message{MsgType: t, Payload: raw}
}

// NewHello builds a handshake message. The screen block is omitted when
// width or height is zero.
func NewHello(name string, width, height int) Message {
	p := HelloPayload{Name: name, Version: Version}
	if width > 0 && height > 0 {
		p.Screen = &ScreenSize{Width: width, Height: height}
	}
	return mustMessage(TypeHello, p)
}

// NewScreenInfo builds a screen_info message.
func NewScreenInfo(width, height int) Message {
	return mustMessage(TypeScreenInfo, ScreenInfoPayload{Width: width, Height: height})
}

// NewMouseMove builds a pointer move with a normalized coordinate.
func NewMouseMove(n types.NormalizedPoint) Message {
	return mustMessage(TypeMouseEvent, MouseEventPayload{Event: "move", NormX: n.X, NormY: n.Y})
}

// NewHideSignal builds the move message that tells the client to hide its
// cursor and stop injecting until the next in-range coordinate.
func NewHideSignal() Message {
	return NewMouseMove(types.HideSignal)
}

// NewMouseButton builds a button press or release at a normalized position.
func NewMouseButton(event string, n types.NormalizedPoint, button int) Message {
	return mustMessage(TypeMouseEvent, MouseEventPayload{Event: event, NormX: n.X, NormY: n.Y, Button: button})
}

// NewMouseScroll builds a scroll event at a normalized position.
func NewMouseScroll(n types.NormalizedPoint, button, delta int) Message {
	return mustMessage(TypeMouseEvent, MouseEventPayload{Event: "scroll", NormX: n.X, NormY: n.Y, Button: button, Delta: delta})
}

// NewKeyEvent builds a key press or release message.
func NewKeyEvent(event string, keycode, keysym uint32) Message {
	return mustMessage(TypeKeyEvent, KeyEventPayload{Event: event, Keycode: keycode, Keysym: keysym})
}

// NewKeepalive builds a keepalive message.
func NewKeepalive() Message {
	return Message{MsgType: TypeKeepalive, Payload: json.RawMessage(`{}`)}
}

// NewError builds an error message.
func NewError(msg string) Message {
	return mustMessage(TypeError, ErrorPayload{Message: msg})
}

// DecodeHello decodes a hello payload.
func DecodeHello(m Message) (HelloPayload, error) {
	var p HelloPayload
	err := json.Unmarshal(m.Payload, &p)
	return p, err
}

// DecodeScreenInfo decodes a screen_info payload.
func DecodeScreenInfo(m Message) (ScreenInfoPayload, error) {
	var p ScreenInfoPayload
	err := json.Unmarshal(m.Payload, &p)
	return p, err
}

// DecodeMouseEvent decodes a mouse_event payload.
func DecodeMouseEvent(m Message) (MouseEventPayload, error) {
	var p MouseEventPayload
	err := json.Unmarshal(m.Payload, &p)
	return p, err
}

// DecodeKeyEvent decodes a key_event payload.
func DecodeKeyEvent(m Message) (KeyEventPayload, error) {
	var p KeyEventPayload
	err := json.Unmarshal(m.Payload, &p)
	return p, err
}

// DecodeError decodes an error payload.
func DecodeError(m Message) (ErrorPayload, error) {
	var p ErrorPayload
	err := json.Unmarshal(m.Payload, &p)
	return p, err
}
