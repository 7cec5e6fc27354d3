package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

// Senders recognized on the relay link.
const (
	SenderWebUI        = "web_ui"
	SenderLocalWorker  = "local_worker"
	SenderOrchestrator = "orchestrator"
)

// Envelope types exchanged over the relay link, both directions.
const (
	TypeCommand            = "command"
	TypeLog                = "log"
	TypeStatus             = "status"
	TypePermissionRequest  = "permission_request"
	TypePermissionResponse = "permission_response"
	TypeChatLogStream      = "chat_log_stream"
)

// Envelope is the wire-level unit exchanged with the relay. Data is an open
// key/value map; well-known keys are accessed through the typed getters.
type Envelope struct {
	Sender string         `json:"sender"`
	TaskID string         `json:"task_id"`
	Type   string         `json:"type"`
	Action string         `json:"action,omitempty"`
	Data   map[string]any `json:"data"`
}

// ParseEnvelope decodes a single text frame. The frame must at least carry a
// type; everything else is tolerated so partially formed worker frames still
// route.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	if strings.TrimSpace(env.Type) == "" {
		return Envelope{}, errors.New("missing envelope type")
	}
	if env.Data == nil {
		env.Data = map[string]any{}
	}
	return env, nil
}

// Encode serializes the envelope for transmission.
func (e Envelope) Encode() ([]byte, error) {
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	return json.Marshal(e)
}

// DataString returns the string value stored under key, or "" when the key
// is absent or not a string.
func (e Envelope) DataString(key string) string {
	if e.Data == nil {
		return ""
	}
	if v, ok := e.Data[key].(string); ok {
		return v
	}
	return ""
}

// DataRaw serializes the whole data map; used when a stream chunk carries no
// content field and the raw payload is the only thing worth showing.
func (e Envelope) DataRaw() string {
	if len(e.Data) == 0 {
		return "{}"
	}
	b, err := json.Marshal(e.Data)
	if err != nil {
		return "{}"
	}
	return string(b)
}
