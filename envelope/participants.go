package envelope

import (
	"html"
	"strings"

	"github.com/onnwee/teams-classbot/events"
)

// ParseParticipants extracts attendees from ended-call markup such as
//
//	<partlist type="ended"><part identity="8:user1"><displayName>Alice</displayName></part></partlist>
//
// Only the <part identity="..."> and <displayName> shapes are understood.
// Parts whose identity starts with botPrefix are skipped, as are repeated
// identities.
func ParseParticipants(markup, botPrefix string) []events.Participant {
	var out []events.Participant
	seen := make(map[string]struct{})
	rest := markup
	for {
		start := strings.Index(rest, "<part ")
		if start < 0 {
			break
		}
		rest = rest[start+len("<part "):]
		tagEnd := strings.IndexByte(rest, '>')
		if tagEnd < 0 {
			break
		}
		attrs := rest[:tagEnd]
		rest = rest[tagEnd+1:]

		var body string
		if !strings.HasSuffix(strings.TrimSpace(attrs), "/") {
			if end := strings.Index(rest, "</part>"); end >= 0 {
				body = rest[:end]
				rest = rest[end+len("</part>"):]
			} else {
				body, rest = rest, ""
			}
		}

		id := attrValue(attrs, "identity")
		if id == "" {
			continue
		}
		if botPrefix != "" && strings.HasPrefix(id, botPrefix) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, events.Participant{ID: id, Name: elementText(body, "displayName")})
	}
	return out
}

// attrValue returns the double-quoted value of name within a tag's
// attribute text.
func attrValue(attrs, name string) string {
	s := " " + attrs
	key := " " + name + `="`
	i := strings.Index(s, key)
	if i < 0 {
		return ""
	}
	s = s[i+len(key):]
	j := strings.IndexByte(s, '"')
	if j < 0 {
		return ""
	}
	return html.UnescapeString(s[:j])
}

// elementText returns the text between <name> and </name>.
func elementText(body, name string) string {
	open := "<" + name + ">"
	i := strings.Index(body, open)
	if i < 0 {
		return ""
	}
	s := body[i+len(open):]
	j := strings.Index(s, "</"+name+">")
	if j < 0 {
		return ""
	}
	return html.UnescapeString(strings.TrimSpace(s[:j]))
}
