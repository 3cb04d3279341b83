// Package ipc implements the framing between the server and an external
// generator process.
//
// The server writes one JSON Input document to the generator's stdin and
// closes it. The generator writes length-prefixed msgpack frames to stdout:
// a 4-byte big-endian payload length followed by the payload. Every payload
// is a map with a "type" discriminant: fragment, notification, or error.
// A clean end of stdout ends production; an error frame fails it.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/endlesschasey-ai/agent-template/types"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxFrameSize - 4 bytes).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// Frame type discriminants.
const (
	FragmentType     = "fragment"
	NotificationType = "notification"
	ErrorType        = "error"
)

// Input is the JSON document written to the generator's stdin.
type Input struct {
	SessionID string          `json:"session_id"`
	RequestID string          `json:"request_id"`
	Input     string          `json:"input"`
	History   []types.Message `json:"history"`
}

// FragmentFrame carries one text fragment.
type FragmentFrame struct {
	Type string `msgpack:"type"`
	Text string `msgpack:"text"`
}

// NotificationFrame carries one tool/data notification.
type NotificationFrame struct {
	Type         string             `msgpack:"type"`
	Notification types.Notification `msgpack:"notification"`
}

// ErrorFrame reports that generation failed. No frames follow it.
type ErrorFrame struct {
	Type    string `msgpack:"type"`
	Message string `msgpack:"message"`
}

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error or unknown type.
	FrameErrorDecode
)

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the stream cannot continue after this error.
// Partial and oversized frames desynchronize the stream; a payload that
// fails to decode can be skipped.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// FrameDecoder decodes length-prefixed msgpack frames from a stream.
type FrameDecoder struct {
	reader io.Reader
}

// NewFrameDecoder creates a new frame decoder.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{reader: r}
}

// ReadFrame reads a single frame from the stream.
// Returns the raw payload bytes (msgpack-encoded).
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame (fatal)
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit (fatal)
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}
	return payload, nil
}

// frameTypeProbe is used to peek at the type field without full decode.
type frameTypeProbe struct {
	Type string `msgpack:"type"`
}

// DecodeFrame decodes a payload into *FragmentFrame, *NotificationFrame, or
// *ErrorFrame based on its type field.
func DecodeFrame(payload []byte) (any, error) {
	var probe frameTypeProbe
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode frame type",
			Err:  err,
		}
	}

	var v any
	switch probe.Type {
	case FragmentType:
		v = &FragmentFrame{}
	case NotificationType:
		v = &NotificationFrame{}
	case ErrorType:
		v = &ErrorFrame{}
	default:
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("unknown frame type %q", probe.Type),
		}
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode " + probe.Type + " frame",
			Err:  err,
		}
	}
	return v, nil
}

// FrameEncoder writes length-prefixed msgpack frames. Safe for concurrent
// use; each frame is written atomically.
type FrameEncoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewFrameEncoder creates an encoder writing to w.
func NewFrameEncoder(w io.Writer) *FrameEncoder {
	return &FrameEncoder{w: w}
}

// WriteFragment writes a fragment frame.
func (e *FrameEncoder) WriteFragment(text string) error {
	return e.write(&FragmentFrame{Type: FragmentType, Text: text})
}

// WriteNotification writes a notification frame.
func (e *FrameEncoder) WriteNotification(n types.Notification) error {
	return e.write(&NotificationFrame{Type: NotificationType, Notification: n})
}

// WriteError writes an error frame.
func (e *FrameEncoder) WriteError(msg string) error {
	return e.write(&ErrorFrame{Type: ErrorType, Message: msg})
}

func (e *FrameEncoder) write(v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize)
	}
	frame := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[LengthPrefixSize:], payload)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
