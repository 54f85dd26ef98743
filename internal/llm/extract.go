package llm

import "strings"

// ExtractJSON pulls the first JSON document out of model output. It tries
// a fenced ```json block first, then balanced-delimiter scanning for an
// object or array. Returns "" when no candidate is found. Callers parse
// the result; extraction makes no validity promise beyond balance.
func ExtractJSON(response string) string {
	if fenced := extractFenced(response); fenced != "" {
		return fenced
	}

	objStart := strings.IndexByte(response, '{')
	arrStart := strings.IndexByte(response, '[')

	start := objStart
	if start == -1 || (arrStart != -1 && arrStart < start) {
		start = arrStart
	}
	if start == -1 {
		return ""
	}
	return balancedFrom(response, start)
}

// extractFenced returns the body of the first ```json fence, or the first
// bare fence whose body starts with a JSON delimiter.
func extractFenced(response string) string {
	rest := response
	for {
		idx := strings.Index(rest, "```")
		if idx == -1 {
			return ""
		}
		after := rest[idx+3:]

		// Fence language tag runs to end of line.
		nl := strings.IndexByte(after, '\n')
		if nl == -1 {
			return ""
		}
		tag := strings.TrimSpace(after[:nl])
		body := after[nl+1:]

		end := strings.Index(body, "```")
		if end == -1 {
			return ""
		}
		content := strings.TrimSpace(body[:end])

		if tag == "json" {
			return content
		}
		if tag == "" && (strings.HasPrefix(content, "{") || strings.HasPrefix(content, "[")) {
			return content
		}
		rest = body[end+3:]
	}
}

// balancedFrom returns the substring starting at start covering one
// balanced JSON value. String literals and escapes are honored so braces
// inside strings do not break the depth count.
func balancedFrom(s string, start int) string {
	open := s[start]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	default:
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
