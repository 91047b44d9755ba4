// Package live maintains the push channel to the form server: a websocket
// that reconnects with exponential backoff after abnormal closes and fans
// decoded messages out to subscribers.
package live

import (
	"encoding/json"
	"fmt"
)

// Message types understood by the server and its clients.
const (
	TypeNewResponse   = "new_response"
	TypeFormUpdated   = "form_updated"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeSubscribeForm = "subscribe_form"
)

// Message is the envelope for every frame in either direction.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// FormRef is the payload of new_response and subscribe_form messages.
type FormRef struct {
	FormID string `json:"formId"`
}

// NewMessage builds a Message, encoding data as its payload. A nil data
// leaves the payload empty.
func NewMessage(typ string, data any) (Message, error) {
	msg := Message{Type: typ}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	msg.Data = raw
	return msg, nil
}

// FormID returns data.formId, or "" when the payload has none.
func (m Message) FormID() string {
	if len(m.Data) == 0 {
		return ""
	}
	var ref FormRef
	if err := json.Unmarshal(m.Data, &ref); err != nil {
		return ""
	}
	return ref.FormID
}

// NewResponseFor reports whether m announces a new response to formID.
func (m Message) NewResponseFor(formID string) bool {
	return m.Type == TypeNewResponse && formID != "" && m.FormID() == formID
}
