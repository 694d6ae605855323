package utils

import (
	"html"
	"mime"
	"strings"

	"github.com/emersion/go-message/charset"
)

var wordDecoder = mime.WordDecoder{CharsetReader: charset.Reader}

// DecodeHeader decodes RFC 2047 encoded words in a header value. Unknown or
// corrupt encodings fall back to the raw value rather than erroring.
func DecodeHeader(value string) string {
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

// StripHTML reduces an HTML document to its visible text: tags are removed,
// entities unescaped, script and style contents dropped, and whitespace
// collapsed.
func StripHTML(src string) string {
	var sb strings.Builder
	skip := false
	inTag := false
	tag := strings.Builder{}

	for _, r := range src {
		switch {
		case r == '<':
			inTag = true
			tag.Reset()
		case r == '>' && inTag:
			inTag = false
			name := strings.ToLower(strings.TrimSpace(tag.String()))
			switch {
			case strings.HasPrefix(name, "script") || strings.HasPrefix(name, "style"):
				skip = true
			case strings.HasPrefix(name, "/script") || strings.HasPrefix(name, "/style"):
				skip = false
			case strings.HasPrefix(name, "br") || strings.HasPrefix(name, "/p") || strings.HasPrefix(name, "/div"):
				sb.WriteByte('\n')
			}
		case inTag:
			tag.WriteRune(r)
		case !skip:
			sb.WriteRune(r)
		}
	}

	text := html.UnescapeString(sb.String())
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "\n")
}
