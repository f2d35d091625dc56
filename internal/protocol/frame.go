package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame to keep a misbehaving peer from
// exhausting memory.
const MaxFrameSize = 1 << 20

var (
	// ErrFrameTooLarge is returned when a frame declares a length above
	// MaxFrameSize.
	ErrFrameTooLarge = errors.New("protocol: frame exceeds size limit")

	// ErrEmptyFrame is returned when a frame declares a zero length.
	ErrEmptyFrame = errors.New("protocol: empty frame")
)

// WriteMessage serialises one message to w as a length-delimited JSON frame:
// a 4-byte big-endian payload length followed by the JSON object.
func WriteMessage(w io.Writer, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("protocol: encode %s: %w", m.MsgType, err)
	}
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadMessage reads one length-delimited JSON frame from r.
func ReadMessage(r io.Reader) (Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, err
	}

	size := binary.BigEndian.Uint32(hdr[:])
	if size == 0 {
		return Message{}, ErrEmptyFrame
	}
	if size > MaxFrameSize {
		return Message{}, ErrFrameTooLarge
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, err
	}

	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("protocol: decode frame: %w", err)
	}
	if m.MsgType == "" {
		return Message{}, errors.New("protocol: frame missing msg_type")
	}
	return m, nil
}
