// Package wire implements the relay wire protocol: tagged JSON frames
// exchanged over a single WebSocket connection per client.
//
// Every frame is a JSON object with a required `type` discriminator. Decode
// validates the required fields for that tag and returns a *errs.HubError
// with Kind errs.KindProtocol when a frame is malformed or its type is
// unknown. The `data` field stays opaque — callers get back a
// json.RawMessage and do their own shape checking, per the hub's duck-typed
// payload design.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/relayhub/relay/internal/errs"
)

// Type is the frame discriminator.
type Type string

const (
	TypeAuth               Type = "auth"
	TypeAuthSuccess        Type = "auth_success"
	TypeRequest            Type = "request"
	TypeClientRequest      Type = "client_request"
	TypeResponse           Type = "response"
	TypeEvent              Type = "event"
	TypeHeartbeat          Type = "heartbeat"
	TypeHeartbeatResponse  Type = "heartbeat_response"
	TypeShutdown           Type = "shutdown"
)

// Frame is the full wire envelope. Fields unused by a given Type are left
// at their zero value and omitted from the encoded JSON, except `success`,
// which is always encoded (as false on frames other than `response`).
type Frame struct {
	Type Type `json:"type"`

	// auth
	Token string `json:"token,omitempty"`
	Name  string `json:"name,omitempty"`

	// request / client_request / response correlation
	ID            string          `json:"id,omitempty"`
	FunctionName  string          `json:"functionName,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	TargetClient  string          `json:"targetClient,omitempty"`
	FromClient    string          `json:"fromClient,omitempty"`

	// response. Success has no omitempty: it is a required field of every
	// `response` frame (spec.md §4.1), and `false` is exactly as meaningful
	// on the wire as `true` — omitting it on failure would make a failed
	// response indistinguishable from a malformed one to an external peer
	// validating against the documented schema.
	Success            bool   `json:"success"`
	Error              string `json:"error,omitempty"`
	OriginalFromClient string `json:"originalFromClient,omitempty"`

	// event
	EventName string `json:"eventName,omitempty"`

	// shutdown
	Reason       string `json:"reason,omitempty"`
	GracePeriod  int64  `json:"gracePeriod,omitempty"`
}

// requiredFields lists, per type, the Frame fields that must be non-empty
// for the frame to be well-formed. "data" and "success" are checked
// specially below since a zero value (empty RawMessage / false) is
// sometimes a valid payload.
var requiredFields = map[Type][]string{
	TypeAuth:              {"token"},
	TypeAuthSuccess:       {"name"},
	TypeRequest:           {"id", "functionName"},
	TypeClientRequest:     {"id", "functionName", "targetClient"},
	TypeResponse:          {"id"},
	TypeEvent:             {"eventName"},
	TypeHeartbeat:         {},
	TypeHeartbeatResponse: {},
	TypeShutdown:          {},
}

// Encode serializes a frame to its JSON wire form.
func Encode(f Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return b, nil
}

// Decode parses raw bytes into a Frame and validates that the required
// fields for its `type` are present. An unknown or missing type, or a
// missing required field, yields a *errs.HubError with Kind
// errs.KindProtocol.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, errs.Protocol("malformed JSON: " + err.Error())
	}

	fields, known := requiredFields[f.Type]
	if !known {
		return Frame{}, errs.Protocol(fmt.Sprintf("unknown frame type %q", f.Type))
	}

	for _, field := range fields {
		if !f.hasField(field) {
			return Frame{}, errs.Protocol(fmt.Sprintf("frame %q missing required field %q", f.Type, field))
		}
	}

	// request/event require a data payload to be present (it may still be
	// `null` or `{}`, but the key must have been sent).
	if (f.Type == TypeRequest || f.Type == TypeClientRequest || f.Type == TypeEvent) && f.Data == nil {
		return Frame{}, errs.Protocol(fmt.Sprintf("frame %q missing required field %q", f.Type, "data"))
	}

	// response requires the `success` key itself; the decoded bool cannot
	// tell an explicit false from an absent key.
	if f.Type == TypeResponse {
		var probe struct {
			Success *bool `json:"success"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil || probe.Success == nil {
			return Frame{}, errs.Protocol(fmt.Sprintf("frame %q missing required field %q", f.Type, "success"))
		}
	}

	return f, nil
}

func (f Frame) hasField(name string) bool {
	switch name {
	case "token":
		return f.Token != ""
	case "name":
		return f.Name != ""
	case "id":
		return f.ID != ""
	case "functionName":
		return f.FunctionName != ""
	case "targetClient":
		return f.TargetClient != ""
	case "eventName":
		return f.EventName != ""
	default:
		return true
	}
}

// NewAuth builds an `auth` frame.
func NewAuth(token, name string) Frame {
	return Frame{Type: TypeAuth, Token: token, Name: name}
}

// NewAuthSuccess builds an `auth_success` frame.
func NewAuthSuccess(name string) Frame {
	return Frame{Type: TypeAuthSuccess, Name: name}
}

// NewRequest builds a `request` frame.
func NewRequest(id, functionName string, data json.RawMessage) Frame {
	return Frame{Type: TypeRequest, ID: id, FunctionName: functionName, Data: data}
}

// NewClientRequest builds a `client_request` frame.
func NewClientRequest(id, functionName, targetClient, fromClient string, data json.RawMessage) Frame {
	return Frame{
		Type: TypeClientRequest, ID: id, FunctionName: functionName,
		TargetClient: targetClient, FromClient: fromClient, Data: data,
	}
}

// NewResponseOK builds a successful `response` frame.
func NewResponseOK(id string, data json.RawMessage, originalFromClient string) Frame {
	return Frame{Type: TypeResponse, ID: id, Success: true, Data: data, OriginalFromClient: originalFromClient}
}

// NewResponseError builds a failed `response` frame.
func NewResponseError(id, errMsg, originalFromClient string) Frame {
	return Frame{Type: TypeResponse, ID: id, Success: false, Error: errMsg, OriginalFromClient: originalFromClient}
}

// NewEvent builds an `event` frame.
func NewEvent(name string, data json.RawMessage, fromClient string) Frame {
	return Frame{Type: TypeEvent, EventName: name, Data: data, FromClient: fromClient}
}

// NewHeartbeat builds a `heartbeat` frame.
func NewHeartbeat() Frame { return Frame{Type: TypeHeartbeat} }

// NewHeartbeatResponse builds a `heartbeat_response` frame.
func NewHeartbeatResponse() Frame { return Frame{Type: TypeHeartbeatResponse} }

// NewShutdown builds a `shutdown` frame.
func NewShutdown(reason string, gracePeriodMillis int64) Frame {
	return Frame{Type: TypeShutdown, Reason: reason, GracePeriod: gracePeriodMillis}
}
