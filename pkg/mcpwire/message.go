package mcpwire

import "encoding/json"

// Message is a JSON-RPC 2.0 envelope kept in raw field form. Every known
// field is surfaced via an accessor, but unrecognized fields (future
// protocol additions, backend-specific extensions) survive untouched in
// raw, so the adapter registry never has to know the complete schema of a
// revision to forward what it doesn't understand.
type Message struct {
	raw map[string]json.RawMessage
}

// ParseMessage decodes a single JSON-RPC frame into raw field form.
func ParseMessage(data []byte) (*Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return &Message{raw: raw}, nil
}

// Marshal re-encodes the message, including any fields untouched by the
// adapter chain.
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m.raw)
}

// Field returns the raw bytes of a top-level field, and whether it is present.
func (m *Message) Field(name string) (json.RawMessage, bool) {
	v, ok := m.raw[name]
	return v, ok
}

// SetField overwrites (or adds) a top-level field.
func (m *Message) SetField(name string, value json.RawMessage) {
	if m.raw == nil {
		m.raw = make(map[string]json.RawMessage)
	}
	m.raw[name] = value
}

// DeleteField removes a top-level field if present.
func (m *Message) DeleteField(name string) {
	delete(m.raw, name)
}

// Method returns the JSON-RPC "method" field, empty for responses.
func (m *Message) Method() string {
	raw, ok := m.raw["method"]
	if !ok {
		return ""
	}
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}

// IsRequest reports whether the message carries both "id" and "method"
// (a request expecting a response, as opposed to a notification).
func (m *Message) IsRequest() bool {
	_, hasID := m.raw["id"]
	_, hasMethod := m.raw["method"]
	return hasID && hasMethod
}

// IsNotification reports whether the message has a method but no id.
func (m *Message) IsNotification() bool {
	_, hasID := m.raw["id"]
	_, hasMethod := m.raw["method"]
	return hasMethod && !hasID
}

// IsResponse reports whether the message has an id but no method (a
// result or error response to a prior request).
func (m *Message) IsResponse() bool {
	_, hasID := m.raw["id"]
	_, hasMethod := m.raw["method"]
	return hasID && !hasMethod
}

// ID returns the raw "id" field, used to correlate requests with responses.
func (m *Message) ID() (json.RawMessage, bool) {
	v, ok := m.raw["id"]
	return v, ok
}

// Clone returns a deep-enough copy for independent mutation by a second
// adapter stage (the underlying json.RawMessage byte slices are treated as
// immutable and shared, but the field map itself is copied).
func (m *Message) Clone() *Message {
	cp := make(map[string]json.RawMessage, len(m.raw))
	for k, v := range m.raw {
		cp[k] = v
	}
	return &Message{raw: cp}
}

// Params unmarshals the "params" field into v, a no-op if params is absent.
func (m *Message) Params(v interface{}) error {
	raw, ok := m.raw["params"]
	if !ok {
		return nil
	}
	return json.Unmarshal(raw, v)
}
