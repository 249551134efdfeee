package wsrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FrameType classifies a decoded wire frame.
type FrameType string

const (
	FrameCall     FrameType = "call"
	FrameCallback FrameType = "callback"
	FrameError    FrameType = "error"
)

// Frame is the wire object exchanged over the WebSocket connection. Every
// frame carries a non-negative Serial; Type defaults to FrameCall when
// absent, for compatibility with peers that omit it on the common case.
type Frame struct {
	Type      FrameType       `json:"type,omitempty"`
	Serial    int64           `json:"serial"`
	Call      string          `json:"call,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// rawFrame mirrors Frame but leaves Type as a bare string so decode can
// detect its absence and default it, and Serial as a RawMessage so a
// missing-vs-negative serial can be told apart from a present one.
type rawFrame struct {
	Type      string          `json:"type"`
	Serial    json.RawMessage `json:"serial"`
	Call      string          `json:"call"`
	Arguments json.RawMessage `json:"arguments"`
	Data      json.RawMessage `json:"data"`
}

// Codec encodes outbound frames as UTF-8 JSON with non-ASCII preserved and
// decodes inbound text frames, classifying them per §4.1. Compression of the
// underlying transport (permessage-deflate) is handled by the transport
// layer, gated on Compression rather than sniffed from a frame.
type Codec struct {
	// Compression reports whether the session negotiated permessage-deflate
	// on the Sec-WebSocket-Extensions header. The Codec itself does not
	// deflate payloads — gorilla/websocket's EnableWriteCompression does
	// that at the connection level once this flag is true.
	Compression bool
}

// NewCodec builds a Codec for a session whose transport negotiated (or did
// not negotiate) permessage-deflate.
func NewCodec(compression bool) *Codec {
	return &Codec{Compression: compression}
}

// Encode serializes f as UTF-8 JSON without HTML-escaping, so non-ASCII
// call arguments and results round-trip unescaped as spec.md §4.1 requires.
func (c *Codec) Encode(f *Frame) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	// json.Encoder.Encode appends a trailing newline; frames are sent as a
	// single WebSocket text message so the newline is harmless but trimmed
	// for a clean wire payload.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses an inbound text payload into a Frame, classifying by the
// "type" field (defaulting to FrameCall when absent). It returns an
// RPCError of kind MalformedFrame for non-JSON payloads or a missing or
// negative serial.
func (c *Codec) Decode(payload []byte) (*Frame, *RPCError) {
	var raw rawFrame
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, newRPCError(KindMalformedFrame, "invalid JSON: %v", err)
	}

	if len(raw.Serial) == 0 {
		return nil, newRPCError(KindMalformedFrame, "missing serial")
	}
	var serial int64
	if err := json.Unmarshal(raw.Serial, &serial); err != nil {
		return nil, newRPCError(KindMalformedFrame, "serial is not a number: %v", err)
	}
	if serial < 0 {
		return nil, newRPCError(KindMalformedFrame, "negative serial %d", serial)
	}

	ftype := FrameType(raw.Type)
	if ftype == "" {
		ftype = FrameCall
	}

	f := &Frame{
		Type:      ftype,
		Serial:    serial,
		Call:      raw.Call,
		Arguments: raw.Arguments,
		Data:      raw.Data,
	}

	if f.Type == FrameCall && f.Call == "" {
		return nil, newRPCError(KindBadArguments, "call frame missing \"call\" field")
	}

	return f, nil
}
