package model

import "encoding/json"

// Serializer turns a log's Payload into its wire-ready JSON form, including
// the "type" discriminator the ingestion transport requires (§6: "each
// element is the serialized log carrying a type discriminator"). The core
// never interprets Payload itself; serialization is external and pluggable,
// same as device-info collection.
type Serializer interface {
	Serialize(p Payload) (json.RawMessage, error)
}

// RawPayload is an already-serialized payload, as read back from the log
// store. It satisfies Payload so a PersistedLog can flow straight into the
// transport layer without re-serializing.
type RawPayload json.RawMessage

func (RawPayload) LogType() string { return "" }

// MarshalJSON passes the already-serialized bytes through unchanged; named
// types over json.RawMessage don't inherit its Marshaler, so this is
// restated explicitly.
func (p RawPayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

func (p *RawPayload) UnmarshalJSON(data []byte) error {
	*p = append((*p)[0:0], data...)
	return nil
}

// wireLog is the envelope JSONSerializer produces: the type discriminator
// alongside the payload's own marshaled form, regardless of whether that
// form is a JSON object, array, or scalar.
type wireLog struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// JSONSerializer is the default Serializer: it marshals Payload with
// encoding/json and wraps it with the "type" discriminator from
// Payload.LogType. Wrapping (rather than splicing fields into the
// payload's own object) works regardless of whether Payload marshals to a
// JSON object, array, or scalar.
type JSONSerializer struct{}

func (JSONSerializer) Serialize(p Payload) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireLog{Type: p.LogType(), Data: data})
}
