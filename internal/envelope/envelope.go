package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed is returned by Decode whenever a frame can't be
// interpreted as an envelope
var ErrMalformed = errors.New("malformed envelope")

const (
	typeKey      = "type"
	clientIDKey  = "client_id"
	timestampKey = "timestamp"
)

// now is a seam for tests
var now = time.Now

// Envelope is the unit exchanged over a session. It is immutable once
// constructed: accessors return copies.
type Envelope struct {
	typ       Type
	clientID  *string
	timestamp time.Time
	fields    map[string]json.RawMessage
}

// New envelope of type t, stamped with current time. An empty clientID is
// sent as null. Payload may be nil, otherwise it must marshal into a json
// object, whose keys are flattened next to the type.
func New(t Type, clientID string, payload any) (Envelope, error) {
	fields, err := toFields(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope.New %v: %w", t, err)
	}
	e := Envelope{
		typ:       t,
		timestamp: now().UTC(),
		fields:    fields,
	}
	if clientID != "" {
		id := clientID
		e.clientID = &id
	}
	return e, nil
}

// Encode is New followed by Marshal
func Encode(t Type, clientID string, payload any) ([]byte, error) {
	e, err := New(t, clientID, payload)
	if err != nil {
		return nil, err
	}
	return e.MarshalJSON()
}

func toFields(payload any) (map[string]json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if payload == nil {
		return fields, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if bytes.Equal(b, []byte("null")) {
		return fields, nil
	}
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("payload is not a json object: %w", err)
	}
	for _, reserved := range []string{typeKey, clientIDKey, timestampKey} {
		delete(fields, reserved)
	}
	return fields, nil
}

func (e Envelope) Type() Type {
	return e.typ
}

// ClientID of the envelope, empty string if null
func (e Envelope) ClientID() string {
	if e.clientID == nil {
		return ""
	}
	return *e.clientID
}

func (e Envelope) HasClientID() bool {
	return e.clientID != nil
}

func (e Envelope) Timestamp() time.Time {
	return e.timestamp
}

// Raw returns a copy of the raw json of some type-specific field
func (e Envelope) Raw(name string) (json.RawMessage, bool) {
	v, ok := e.fields[name]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), v...), true
}

// Field unmarshals the field name into out
func (e Envelope) Field(name string, out any) error {
	v, ok := e.fields[name]
	if !ok {
		return fmt.Errorf("field '%v' missing on '%v' envelope", name, e.typ)
	}
	return json.Unmarshal(v, out)
}

// Into unmarshals every type-specific field into out, as if the envelope
// was a flat json object
func (e Envelope) Into(out any) error {
	b, err := json.Marshal(e.fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(e.fields)+3)
	for k, v := range e.fields {
		out[k] = v
	}
	var err error
	out[typeKey], err = json.Marshal(e.typ)
	if err != nil {
		return nil, err
	}
	out[clientIDKey], err = json.Marshal(e.clientID)
	if err != nil {
		return nil, err
	}
	if !e.timestamp.IsZero() {
		out[timestampKey], err = json.Marshal(e.timestamp.Format(time.RFC3339Nano))
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

// Decode a frame into an envelope. Unknown types decode fine, it's up to
// the caller to decide what to do with them. Timestamps are accepted both
// as ISO-8601 strings and as unix seconds.
func Decode(data []byte) (Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw == nil {
		return Envelope{}, fmt.Errorf("%w: not an object", ErrMalformed)
	}
	var e Envelope
	rawType, ok := raw[typeKey]
	if !ok {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if err := json.Unmarshal(rawType, &e.typ); err != nil || e.typ == "" {
		return Envelope{}, fmt.Errorf("%w: type must be a non-empty string", ErrMalformed)
	}
	if rawID, ok := raw[clientIDKey]; ok {
		if err := json.Unmarshal(rawID, &e.clientID); err != nil {
			return Envelope{}, fmt.Errorf("%w: client_id must be string or null", ErrMalformed)
		}
	}
	if rawTS, ok := raw[timestampKey]; ok {
		ts, err := parseTimestamp(rawTS)
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		e.timestamp = ts
	}
	delete(raw, typeKey)
	delete(raw, clientIDKey)
	delete(raw, timestampKey)
	e.fields = raw
	return e, nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp: %w", err)
		}
		return ts, nil
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err == nil {
		whole := int64(secs)
		frac := secs - float64(whole)
		return time.Unix(whole, int64(frac*float64(time.Second))).UTC(), nil
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return time.Time{}, nil
	}
	return time.Time{}, errors.New("timestamp must be ISO-8601 string or unix seconds")
}
