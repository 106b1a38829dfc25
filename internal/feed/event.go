// Package feed provides the websocket subscriber for a per-address post feed.
// Types mirror the feed wire protocol without importing server packages.
package feed

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/juju/errors"
)

// ErrDecode is returned when an inbound frame is not a UTF-8 JSON object.
const ErrDecode = errors.ConstError("feed frame decode failed")

// Event is one decoded frame. It is either an ErrorEvent or a PostEvent.
type Event interface {
	isEvent()
}

// ErrorEvent is an in-band error reported by the origin. It is a normal
// message, not a transport failure.
type ErrorEvent struct {
	Message string
}

// PostEvent carries one pre-rendered post. HTML is never parsed.
type PostEvent struct {
	HTML string
}

func (ErrorEvent) isEvent() {}
func (PostEvent) isEvent()  {}

// Error lets an ErrorEvent be handed to anything that displays errors.
func (e ErrorEvent) Error() string {
	return e.Message
}

const unknownErrorMessage = "unknown error"

// Decode turns one text frame into an Event. Any object with an "error" key
// is an ErrorEvent, regardless of what else it carries; every other object
// is a PostEvent.
func Decode(data []byte) (Event, error) {
	if !utf8.Valid(data) {
		return nil, errors.Annotate(ErrDecode, "frame is not valid UTF-8")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errors.Annotatef(ErrDecode, "%v", err)
	}
	// "null" unmarshals into a nil map without error.
	if fields == nil {
		return nil, errors.Annotate(ErrDecode, "frame is not a JSON object")
	}

	if rawErr, ok := fields["error"]; ok {
		return ErrorEvent{Message: errorMessage(rawErr, fields["message"])}, nil
	}

	var post PostEvent
	if raw, ok := fields["html"]; ok {
		if err := json.Unmarshal(raw, &post.HTML); err != nil {
			return nil, errors.Annotate(ErrDecode, "html is not a string")
		}
	}
	return post, nil
}

// errorMessage prefers the "message" field, then a string "error" value.
func errorMessage(rawErr, rawMsg json.RawMessage) string {
	var s string
	if rawMsg != nil && json.Unmarshal(rawMsg, &s) == nil && s != "" {
		return s
	}
	if json.Unmarshal(rawErr, &s) == nil && s != "" {
		return s
	}
	return unknownErrorMessage
}
