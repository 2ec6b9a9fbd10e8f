// Package envelope defines the wire messages of the realtime channel.
//
// An Envelope is built once per publish and never mutated afterwards. Its JSON
// frame is encoded at construction so fan-out to many connections shares the
// same bytes.
package envelope

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// ErrMalformedMessage reports an inbound frame that is not valid JSON or lacks required fields.
var ErrMalformedMessage = errors.New("malformed message")

// Envelope is one immutable outbound message addressed to one or more groups.
type Envelope struct {
	kind      Kind
	groups    []string
	timestamp time.Time
	frame     []byte
}

// New encodes payload as a flat JSON object tagged with the kind's type name.
// payload must encode to a JSON object (or be nil).
func New(kind Kind, payload any, timestamp time.Time, groups ...string) (*Envelope, error) {
	if kind == KindUnknown || kind >= kindCount {
		return nil, errors.Errorf("invalid envelope kind %d", kind)
	}
	frame, err := encodeFrame(kind, payload)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s envelope", kind)
	}
	return &Envelope{
		kind:      kind,
		groups:    append([]string(nil), groups...),
		timestamp: timestamp,
		frame:     frame,
	}, nil
}

// Decode rebuilds an envelope from a frame received from another process.
func Decode(frame []byte, groups ...string) (*Envelope, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	kind, ok := ParseKind(head.Type)
	if !ok {
		return nil, errors.Wrapf(ErrMalformedMessage, "unknown envelope type %q", head.Type)
	}
	return &Envelope{
		kind:      kind,
		groups:    append([]string(nil), groups...),
		timestamp: time.Now(),
		frame:     append([]byte(nil), frame...),
	}, nil
}

func (e *Envelope) Kind() Kind { return e.kind }

func (e *Envelope) Timestamp() time.Time { return e.timestamp }

// Groups returns a copy of the target groups.
func (e *Envelope) Groups() []string {
	return append([]string(nil), e.groups...)
}

// Frame returns the encoded JSON. Callers must not modify it.
func (e *Envelope) Frame() []byte { return e.frame }

func encodeFrame(kind Kind, payload any) ([]byte, error) {
	typeField, err := json.Marshal(kind.String())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(typeField)

	if payload == nil {
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) < 2 || body[0] != '{' {
		return nil, errors.New("payload must encode to a JSON object")
	}
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
