package messenger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type Type string

const (
	// TypeAddScript asks the receiver to store payload.script and reply
	// with the new id.
	TypeAddScript Type = "ADD_SCRIPT_TO_DB"
	// TypeVbeeTokenCaptured announces a newly captured TTS vendor token.
	TypeVbeeTokenCaptured Type = "VBEE_TOKEN_CAPTURED"
	// TypePrimeGemini asks for the chat AI app to be primed with the
	// script schema.
	TypePrimeGemini Type = "PRIME_GEMINI_WITH_SCHEMA"
	// TypeOpenPage asks for the application page to open with a payload.
	TypeOpenPage Type = "OPEN_PAGE_WITH_PAYLOAD"
)

// Request is a tagged message between contexts.
type Request struct {
	ID      string          `json:"id"`
	Type    Type            `json:"type"`
	Source  string          `json:"source,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewRequest builds a request with a fresh correlation id.
func NewRequest(typ Type, source string, payload any) (Request, error) {
	req := Request{ID: uuid.NewString(), Type: typ, Source: source}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Request{}, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		req.Payload = raw
	}
	return req, nil
}

// Decode unmarshals the payload into v.
func (r Request) Decode(v any) error {
	if len(r.Payload) == 0 {
		return errors.New("payload required")
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", r.Type, err)
	}
	return nil
}

type ErrorBody struct {
	Message string `json:"message"`
}

// Response is either {success: true, data} or {success: false, error}.
type Response struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data,omitempty"`
	ScriptID int64           `json:"scriptId,omitempty"`
	Error    *ErrorBody      `json:"error,omitempty"`
}

// OK builds a success response carrying data.
func OK(data any) Response {
	if data == nil {
		return Response{Success: true}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Fail(fmt.Errorf("encode response: %w", err))
	}
	return Response{Success: true, Data: raw}
}

// Fail builds a failure response from err.
func Fail(err error) Response {
	msg := "request failed"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return Response{Error: &ErrorBody{Message: msg}}
}

// RemoteError is a failure reported by the receiving context.
type RemoteError struct {
	Type    Type
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Type, e.Message)
}

// Err returns nil for a success response and a *RemoteError otherwise.
func (r Response) Err(typ Type) error {
	if r.Success {
		return nil
	}
	msg := "request failed"
	if r.Error != nil && r.Error.Message != "" {
		msg = r.Error.Message
	}
	return &RemoteError{Type: typ, Message: msg}
}
