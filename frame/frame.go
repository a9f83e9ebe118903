// Package frame extracts the JSON payload carried by a raw frame captured off
// the client's trouter socket.
//
// Payload frames look like `3:::{"id":1,"method":"POST","url":"...","body":"{...}"}`:
// a marker character, a fixed number of delimiter-separated metadata fields,
// then a JSON object whose body field holds the envelope as nested JSON. The
// prefix shape is not documented by the remote side, so every piece of it is
// configurable.
package frame

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrMalformedFrame marks a payload frame whose JSON could not be parsed.
// Callers log and discard; it is never fatal.
var ErrMalformedFrame = errors.New("malformed frame")

const (
	DefaultMarker         = '3'
	DefaultDelimiter      = ':'
	DefaultDelimiterCount = 3
	DefaultBodyField      = "body"
)

// Decoder holds the prefix layout used to locate the payload.
type Decoder struct {
	Marker         byte
	Delimiter      byte
	DelimiterCount int
	BodyField      string
}

// DefaultDecoder returns a Decoder for the observed `3:::` prefix.
func DefaultDecoder() Decoder {
	return Decoder{
		Marker:         DefaultMarker,
		Delimiter:      DefaultDelimiter,
		DelimiterCount: DefaultDelimiterCount,
		BodyField:      DefaultBodyField,
	}
}

// Decode returns the envelope carried in raw.
//
// ok is false with a nil error when the frame is not a payload frame (wrong
// marker, too few delimiters, no JSON object after the prefix, no body
// field); such frames are simply skipped. A non-nil error wraps
// ErrMalformedFrame.
func (d Decoder) Decode(raw string) (envelope gjson.Result, ok bool, err error) {
	if raw == "" || raw[0] != d.Marker {
		return gjson.Result{}, false, nil
	}
	rest, found := d.afterPrefix(raw)
	if !found || rest == "" || rest[0] != '{' {
		return gjson.Result{}, false, nil
	}
	if !gjson.Valid(rest) {
		return gjson.Result{}, false, fmt.Errorf("%w: payload is not valid JSON", ErrMalformedFrame)
	}
	field := d.BodyField
	if field == "" {
		field = DefaultBodyField
	}
	body := gjson.Get(rest, field)
	if !body.Exists() {
		return gjson.Result{}, false, nil
	}
	switch {
	case body.IsObject():
		return body, true, nil
	case body.Type == gjson.String:
		inner := body.String()
		if !gjson.Valid(inner) {
			return gjson.Result{}, false, fmt.Errorf("%w: %s is not valid JSON", ErrMalformedFrame, field)
		}
		parsed := gjson.Parse(inner)
		if !parsed.IsObject() {
			return gjson.Result{}, false, fmt.Errorf("%w: %s is not an object", ErrMalformedFrame, field)
		}
		return parsed, true, nil
	default:
		return gjson.Result{}, false, fmt.Errorf("%w: unexpected %s type %s", ErrMalformedFrame, field, body.Type)
	}
}

// afterPrefix returns everything after the DelimiterCount-th delimiter.
func (d Decoder) afterPrefix(raw string) (string, bool) {
	if d.DelimiterCount <= 0 {
		return raw[1:], true
	}
	seen := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] != d.Delimiter {
			continue
		}
		seen++
		if seen == d.DelimiterCount {
			return raw[i+1:], true
		}
	}
	return "", false
}
