package bridge

import (
	"math"

	"github.com/bytedance/sonic"
)

// Envelope is the unit exchanged over the binding channel.
// Outbound envelopes are serialized to a string for the host primitive;
// inbound envelopes arrive as objects.
type Envelope struct {
	Message         any            `json:"message,omitempty"`
	Key             string         `json:"key,omitempty"`
	Method          string         `json:"method,omitempty"`
	Params          any            `json:"params,omitempty"`
	SessionID       string         `json:"sessionId,omitempty"`
	Response        map[string]any `json:"response,omitempty"`
	BindingAttached bool           `json:"bindingAttached,omitempty"`
}

// Envelope kinds, used as metric labels and in logs
const (
	KindAttach   = "attach"
	KindControl  = "ctl"
	KindResponse = "response"
	KindKeyed    = "keyed"
	KindMessage  = "message"
	KindEmpty    = "empty"
)

// Kind classifies the envelope by the fields it carries.
func (e Envelope) Kind() string {
	switch {
	case e.BindingAttached:
		return KindAttach
	case e.Method != "":
		return KindControl
	case e.Response != nil:
		return KindResponse
	case e.Key != "":
		return KindKeyed
	case e.Message != nil:
		return KindMessage
	default:
		return KindEmpty
	}
}

// Marshal serializes the envelope the way it is handed to the host primitive.
func (e Envelope) Marshal() (string, error) {
	return sonic.MarshalString(e)
}

// Map returns the envelope as a plain object, omitting absent fields.
func (e Envelope) Map() map[string]any {
	m := make(map[string]any, 4)
	if e.Message != nil {
		m["message"] = e.Message
	}
	if e.Key != "" {
		m["key"] = e.Key
	}
	if e.Method != "" {
		m["method"] = e.Method
	}
	if e.Params != nil {
		m["params"] = e.Params
	}
	if e.SessionID != "" {
		m["sessionId"] = e.SessionID
	}
	if e.Response != nil {
		m["response"] = e.Response
	}
	if e.BindingAttached {
		m["bindingAttached"] = true
	}
	return m
}

// EnvelopeFromMap builds an envelope from a decoded object.
// Fields of the wrong type are ignored rather than rejected.
func EnvelopeFromMap(m map[string]any) Envelope {
	var env Envelope
	if m == nil {
		return env
	}
	env.Message = m["message"]
	env.Params = m["params"]
	env.Key, _ = m["key"].(string)
	env.Method, _ = m["method"].(string)
	env.SessionID, _ = m["sessionId"].(string)
	env.Response, _ = m["response"].(map[string]any)
	env.BindingAttached, _ = m["bindingAttached"].(bool)
	return env
}

// ParseEnvelope decodes a JSON envelope.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Fingerprint returns a canonical encoding of a message payload, used to
// match reverse associations by value. Map keys are sorted.
func Fingerprint(message any) (string, error) {
	return sonic.ConfigStd.MarshalToString(message)
}

// truthy mirrors script truthiness for payload values.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int32:
		return x != 0
	case int64:
		return x != 0
	case float32:
		return x != 0
	case float64:
		return x != 0 && !math.IsNaN(x)
	default:
		return true
	}
}
