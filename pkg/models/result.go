package models

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Result is what the worker produces for every command: a PNG screenshot
// of the screen after the command ran and the URL currently open, or a
// failure marker when the command could not be executed.
type Result struct {
	// ID is the ticket id of the command this result answers.
	ID         string
	Screenshot []byte
	URL        string
	Err        string
}

// Failed reports whether the worker marked this result as a failure.
func (r Result) Failed() bool {
	return r.Err != ""
}

// ResultEnvelope is the wire shape the worker publishes on the result
// channel: {id, screenshot: base64, url} or {id, error}.
type ResultEnvelope struct {
	ID         string `json:"id"`
	Screenshot string `json:"screenshot,omitempty"`
	URL        string `json:"url,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ParseResult decodes a result channel payload into a Result.
func ParseResult(data []byte) (Result, error) {
	var env ResultEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Result{}, fmt.Errorf("unmarshal result: %w", err)
	}
	if env.Error != "" {
		return Result{ID: env.ID, Err: env.Error}, nil
	}
	shot, err := base64.StdEncoding.DecodeString(env.Screenshot)
	if err != nil {
		return Result{}, fmt.Errorf("decode screenshot: %w", err)
	}
	return Result{ID: env.ID, Screenshot: shot, URL: env.URL}, nil
}

// CreateCommandResponse is returned from POST /v1/sessions/{id}/commands.
// The screenshot is re-encoded as base64 for the JSON response.
type CreateCommandResponse struct {
	ID         string `json:"id"`
	Screenshot string `json:"screenshot"`
	URL        string `json:"url"`
}
