package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// CommandName identifies one entry in the closed command vocabulary the
// worker understands. Anything outside this set is rejected at the API
// boundary and never reaches the channel.
type CommandName string

const (
	CmdOpenWebBrowser CommandName = "open_web_browser"
	CmdClickAt        CommandName = "click_at"
	CmdHoverAt        CommandName = "hover_at"
	CmdTypeTextAt     CommandName = "type_text_at"
	CmdScrollDocument CommandName = "scroll_document"
	CmdWait           CommandName = "wait_5_seconds"
	CmdGoBack         CommandName = "go_back"
	CmdGoForward      CommandName = "go_forward"
	CmdSearch         CommandName = "search"
	CmdNavigate       CommandName = "navigate"
	CmdKeyCombination CommandName = "key_combination"
	CmdScreenshot     CommandName = "screenshot"
	CmdShutdown       CommandName = "shutdown"
)

// ErrUnknownCommand is returned when a command name is outside the vocabulary.
var ErrUnknownCommand = errors.New("unknown command name")

// Command is a tagged union keyed by Name. Args holds the raw variant
// payload and is validated against the declared shape by Validate.
type Command struct {
	Name CommandName     `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type ClickAtArgs struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type HoverAtArgs struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type TypeTextAtArgs struct {
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Text string `json:"text"`
}

type ScrollDocumentArgs struct {
	Direction string `json:"direction"`
}

type NavigateArgs struct {
	URL string `json:"url"`
}

type KeyCombinationArgs struct {
	Keys string `json:"keys"`
}

// Validate checks that Args matches the shape declared for Name.
// Unknown names and malformed argument payloads are rejected here so
// nothing dynamically typed travels through the channel.
func (c Command) Validate() error {
	switch c.Name {
	case CmdOpenWebBrowser, CmdWait, CmdGoBack, CmdGoForward, CmdSearch, CmdScreenshot, CmdShutdown:
		return c.requireNoArgs()
	case CmdClickAt:
		var args ClickAtArgs
		return c.decodeArgs(&args)
	case CmdHoverAt:
		var args HoverAtArgs
		return c.decodeArgs(&args)
	case CmdTypeTextAt:
		var args TypeTextAtArgs
		return c.decodeArgs(&args)
	case CmdScrollDocument:
		var args ScrollDocumentArgs
		if err := c.decodeArgs(&args); err != nil {
			return err
		}
		if args.Direction != "up" && args.Direction != "down" {
			return fmt.Errorf("%s: direction must be \"up\" or \"down\"", c.Name)
		}
		return nil
	case CmdNavigate:
		var args NavigateArgs
		if err := c.decodeArgs(&args); err != nil {
			return err
		}
		if args.URL == "" {
			return fmt.Errorf("%s: url is required", c.Name)
		}
		return nil
	case CmdKeyCombination:
		var args KeyCombinationArgs
		if err := c.decodeArgs(&args); err != nil {
			return err
		}
		if args.Keys == "" {
			return fmt.Errorf("%s: keys is required", c.Name)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Name)
	}
}

// TextLength returns the length of the text payload for type_text_at
// commands, and zero for everything else. Used to scale the command
// timeout with the per-keystroke latency of typing automation.
func (c Command) TextLength() int {
	if c.Name != CmdTypeTextAt {
		return 0
	}
	var args TypeTextAtArgs
	if err := json.Unmarshal(c.Args, &args); err != nil {
		return 0
	}
	return len(args.Text)
}

func (c Command) requireNoArgs() error {
	if len(c.Args) == 0 || bytes.Equal(c.Args, []byte("null")) || bytes.Equal(c.Args, []byte("{}")) {
		return nil
	}
	return fmt.Errorf("%s: takes no arguments", c.Name)
}

func (c Command) decodeArgs(v interface{}) error {
	if len(c.Args) == 0 {
		return fmt.Errorf("%s: args are required", c.Name)
	}
	dec := json.NewDecoder(bytes.NewReader(c.Args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%s: invalid args: %w", c.Name, err)
	}
	return nil
}

// CommandEnvelope is the wire shape published to a session's command
// channel: {id, command: {name, args}}.
type CommandEnvelope struct {
	ID      string  `json:"id"`
	Command Command `json:"command"`
}
