package signal

import (
	"encoding/json"
	"fmt"

	"github.com/huddlelabs/huddle/internal/core"
	"github.com/huddlelabs/huddle/internal/domain"
)

// Request is the inbound envelope. ID is echoed back in the reply so the
// client can match responses to requests over the persistent connection.
type Request struct {
	ID   uint64          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type response struct {
	ID    uint64     `json:"id"`
	Type  string     `json:"type"`
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type notification struct {
	Type   string `json:"type"`
	Method string `json:"method"`
	Data   any    `json:"data,omitempty"`
}

func parseRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("%w: bad envelope: %v", domain.ErrValidation, err)
	}
	if req.Type == "" {
		return Request{}, fmt.Errorf("%w: missing request type", domain.ErrValidation)
	}
	return req, nil
}

func encodeOK(id uint64, data any) (core.Frame, error) {
	return json.Marshal(response{ID: id, Type: "response", OK: true, Data: data})
}

func encodeErr(id uint64, code, message string) (core.Frame, error) {
	return json.Marshal(response{ID: id, Type: "response", OK: false, Error: &errorBody{Code: code, Message: message}})
}

func encodeNotification(method string, data any) (core.Frame, error) {
	return json.Marshal(notification{Type: "notification", Method: method, Data: data})
}
