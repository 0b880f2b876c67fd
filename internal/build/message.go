package build

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// createdMessage is the queue payload for a dispatched build.
type createdMessage struct {
	BuildID uuid.UUID `json:"build_id"`
}

// EncodeCreatedMessage encodes the queue payload for a build id.
func EncodeCreatedMessage(buildID uuid.UUID) ([]byte, error) {
	msgBuf := new(bytes.Buffer)
	if err := json.NewEncoder(msgBuf).Encode(createdMessage{BuildID: buildID}); err != nil {
		return nil, err
	}
	return msgBuf.Bytes(), nil
}

// DecodeCreatedMessage decodes a queue payload back into a build id.
func DecodeCreatedMessage(body []byte) (uuid.UUID, error) {
	var msg struct {
		BuildID *uuid.UUID `json:"build_id"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&msg); err != nil {
		return uuid.Nil, fmt.Errorf("invalid body: %w", err)
	}
	if msg.BuildID == nil {
		return uuid.Nil, fmt.Errorf("missing %s body field", "build_id")
	}
	return *msg.BuildID, nil
}

// Result is what the engine runner reports through the completion
// callback. It travels base64 encoded in the callback request body.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

const resultStatusSuccess = "success"

// EncodeResult encodes a runner result for the callback body.
func EncodeResult(r *Result) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeResult decodes a base64 callback message. The decoded bytes are
// further decoded as the runner's result payload; anything that is not
// one is treated as a plain error message, which keeps the handler
// tolerant of older runners that post bare text.
func DecodeResult(message string) (*Result, error) {
	raw, err := base64.StdEncoding.DecodeString(message)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var r Result
	if jsonErr := json.Unmarshal(raw, &r); jsonErr != nil || r.Status == "" {
		return &Result{Status: "error", Message: string(raw)}, nil
	}
	return &r, nil
}

// Success reports whether the result indicates a successful build.
func (r *Result) Success() bool {
	return r.Status == resultStatusSuccess
}
