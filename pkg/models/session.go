package models

import (
	"fmt"
	"regexp"
	"time"
)

// SessionStatus represents the current state of a relay session
type SessionStatus string

const (
	StatusCreated SessionStatus = "CREATED"
	StatusActive  SessionStatus = "ACTIVE"
	StatusEnded   SessionStatus = "ENDED"
)

// SessionType selects the kind of worker environment to provision
type SessionType string

const (
	TypeBrowser SessionType = "browser"
	TypeHeadful SessionType = "headful"
	TypeOS      SessionType = "os"
)

// SignalingMode selects how commands and results travel between the
// control plane and the worker
type SignalingMode string

const (
	SignalingLocal  SignalingMode = "local"
	SignalingBroker SignalingMode = "broker"
)

var screenResolutionRe = regexp.MustCompile(`^\d+x\d+(x\d+)?$`)

// SessionConfig is the payload for creating a new session
type SessionConfig struct {
	Type               SessionType `json:"type,omitempty"`
	ScreenResolution   string      `json:"screenResolution,omitempty"`
	TimeoutSeconds     int         `json:"timeoutSeconds,omitempty"`
	IdleTimeoutSeconds int         `json:"idleTimeoutSeconds,omitempty"`
}

// ApplyDefaults fills in zero-valued fields with the documented defaults.
func (c *SessionConfig) ApplyDefaults() {
	if c.Type == "" {
		c.Type = TypeBrowser
	}
	if c.ScreenResolution == "" {
		c.ScreenResolution = "1920x1000x16"
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 60 * 60 * 24
	}
	if c.IdleTimeoutSeconds == 0 {
		c.IdleTimeoutSeconds = 60 * 60
	}
}

// Validate checks the config after defaults have been applied.
func (c SessionConfig) Validate() error {
	switch c.Type {
	case TypeBrowser, TypeHeadful, TypeOS:
	default:
		return fmt.Errorf("unknown session type %q", c.Type)
	}
	if !screenResolutionRe.MatchString(c.ScreenResolution) {
		return fmt.Errorf("screen resolution %q must be WxH or WxHxD", c.ScreenResolution)
	}
	if c.TimeoutSeconds < 0 || c.IdleTimeoutSeconds < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// Session represents one worker executing commands for one browsing task
type Session struct {
	ID        string        `json:"id"`
	Config    SessionConfig `json:"config"`
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"startedAt"`
	ExpiresAt time.Time     `json:"expiresAt"`
}

// CreateSessionResponse is returned from POST /v1/sessions
type CreateSessionResponse struct {
	ID string `json:"id"`
}

// DeleteSessionResponse is returned from DELETE /v1/sessions/{id}
type DeleteSessionResponse struct {
	ID string `json:"id"`
}
