package engine

import (
	"encoding/json"
	"regexp"
	"strings"

	"querygate/internal/domain"
)

// ParsedOperation is the structured form of one document-store operation.
// Either RawCommand is set (the text was a bare JSON server command) or
// Collection/Method/Args describe a collection-level call.
type ParsedOperation struct {
	Collection string
	Method     string
	Args       []any
	RawCommand map[string]any
}

// The three accepted surface syntaxes for a collection call:
// db.coll.method(args), db["coll"].method(args), db['coll'].method(args).
var (
	dotCallRe     = regexp.MustCompile(`^db\.([A-Za-z_$][\w.$]*?)\.(\w+)\s*\(([\s\S]*)\)\s*;?\s*$`)
	bracketCallRe = regexp.MustCompile(`^db\[(?:"([^"\]]+)"|'([^'\]]+)')\]\.(\w+)\s*\(([\s\S]*)\)\s*;?\s*$`)
)

// ParseQuery turns user-submitted operation text into a ParsedOperation.
// A single JSON object is treated as a raw server command; otherwise the
// text must match one of the collection-call syntaxes. Unknown method names
// are not rejected here; dispatch decides whether a method is supported.
func ParseQuery(text string) (*ParsedOperation, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, domain.ErrValidation("query text is required")
	}

	// Raw server command: a bare JSON object like {"ping": 1}.
	if strings.HasPrefix(trimmed, "{") {
		var cmd map[string]any
		if err := json.Unmarshal([]byte(normalizeRelaxedJSON(trimmed)), &cmd); err == nil {
			return &ParsedOperation{RawCommand: cmd}, nil
		}
	}

	var collection, method, argsText string
	if m := dotCallRe.FindStringSubmatch(trimmed); m != nil {
		collection, method, argsText = m[1], m[2], m[3]
	} else if m := bracketCallRe.FindStringSubmatch(trimmed); m != nil {
		collection = m[1]
		if collection == "" {
			collection = m[2]
		}
		method, argsText = m[3], m[4]
	} else {
		return nil, domain.ErrValidation("unrecognized operation syntax: %.80q (expected db.<collection>.<method>(...) or a JSON command)", trimmed)
	}

	args, err := parseCallArgs(argsText)
	if err != nil {
		return nil, err
	}
	return &ParsedOperation{Collection: collection, Method: method, Args: args}, nil
}

// parseCallArgs decodes the text between the call parentheses as a JSON
// array of positional arguments, or a single JSON value wrapped in an array.
func parseCallArgs(argsText string) ([]any, error) {
	trimmed := strings.TrimSpace(argsText)
	if trimmed == "" {
		return nil, nil
	}

	normalized := normalizeRelaxedJSON(trimmed)

	var args []any
	if err := json.Unmarshal([]byte("["+normalized+"]"), &args); err == nil {
		return args, nil
	}
	var single any
	if err := json.Unmarshal([]byte(normalized), &single); err == nil {
		return []any{single}, nil
	}
	return nil, domain.ErrValidation("malformed operation arguments: %.80q", trimmed)
}

// normalizeRelaxedJSON converts shell-style relaxed JSON into strict JSON:
// bare object keys are quoted and single-quoted strings become double-quoted.
// Content inside string literals is left untouched.
func normalizeRelaxedJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	var last byte // last significant byte emitted outside string literals
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '"':
			// Copy a double-quoted literal verbatim, honoring escapes.
			j := i + 1
			for j < len(s) {
				if s[j] == '\\' && j+1 < len(s) {
					j += 2
					continue
				}
				if s[j] == '"' {
					j++
					break
				}
				j++
			}
			b.WriteString(s[i:j])
			last = '"'
			i = j

		case c == '\'':
			// Re-quote a single-quoted literal as a double-quoted one.
			b.WriteByte('"')
			j := i + 1
			for j < len(s) {
				if s[j] == '\\' && j+1 < len(s) {
					if s[j+1] == '\'' {
						b.WriteByte('\'')
					} else {
						b.WriteByte(s[j])
						b.WriteByte(s[j+1])
					}
					j += 2
					continue
				}
				if s[j] == '\'' {
					j++
					break
				}
				if s[j] == '"' {
					b.WriteString(`\"`)
					j++
					continue
				}
				b.WriteByte(s[j])
				j++
			}
			b.WriteByte('"')
			last = '"'
			i = j

		case isIdentStart(c) && (last == '{' || last == ','):
			// A bare word in key position: quote it if a colon follows.
			j := i
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			k := j
			for k < len(s) && isSpace(s[k]) {
				k++
			}
			word := s[i:j]
			if k < len(s) && s[k] == ':' {
				b.WriteByte('"')
				b.WriteString(word)
				b.WriteByte('"')
				last = '"'
			} else {
				b.WriteString(word)
				last = s[j-1]
			}
			i = j

		default:
			b.WriteByte(c)
			if !isSpace(c) {
				last = c
			}
			i++
		}
	}
	return b.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
