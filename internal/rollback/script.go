package rollback

import (
	"regexp"
	"strings"
)

// MinScriptSize is the smallest script accepted for execution.
const MinScriptSize = 10

var sqlKeyword = regexp.MustCompile(`(?i)\b(select|insert|update|delete|create|alter|drop|truncate|grant|revoke|begin|commit)\b`)

// LooksLikeSQL reports whether content contains at least one SQL keyword.
func LooksLikeSQL(content string) bool {
	return sqlKeyword.MatchString(stripComments(content))
}

// stripComments removes "--" line comments and "/* */" block comments that
// are not inside quotes.
func stripComments(content string) string {
	var b strings.Builder
	s := &splitter{src: content}
	for s.pos < len(s.src) {
		if s.skipComment() {
			b.WriteByte(' ')
			continue
		}
		start := s.pos
		s.advance()
		b.WriteString(s.src[start:s.pos])
	}
	return b.String()
}

// SplitStatements splits a script into statements on semicolons outside
// quotes, dollar-quoted bodies and comments. Empty statements are dropped.
func SplitStatements(content string) []string {
	var statements []string
	var current strings.Builder
	s := &splitter{src: content}

	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for s.pos < len(s.src) {
		if s.skipComment() {
			current.WriteByte(' ')
			continue
		}
		if s.src[s.pos] == ';' {
			s.pos++
			flush()
			continue
		}
		start := s.pos
		s.advance()
		current.WriteString(s.src[start:s.pos])
	}
	flush()
	return statements
}

type splitter struct {
	src string
	pos int
}

// skipComment consumes a comment at the cursor.
func (s *splitter) skipComment() bool {
	rest := s.src[s.pos:]
	switch {
	case strings.HasPrefix(rest, "--"):
		if i := strings.IndexByte(rest, '\n'); i >= 0 {
			s.pos += i
		} else {
			s.pos = len(s.src)
		}
		return true
	case strings.HasPrefix(rest, "/*"):
		if i := strings.Index(rest[2:], "*/"); i >= 0 {
			s.pos += i + 4
		} else {
			s.pos = len(s.src)
		}
		return true
	}
	return false
}

// advance consumes one token: a quoted string, a dollar-quoted body or a
// single byte.
func (s *splitter) advance() {
	c := s.src[s.pos]
	switch c {
	case '\'', '"':
		s.pos++
		for s.pos < len(s.src) {
			if s.src[s.pos] == c {
				// doubled quote is an escaped quote
				if s.pos+1 < len(s.src) && s.src[s.pos+1] == c {
					s.pos += 2
					continue
				}
				s.pos++
				return
			}
			s.pos++
		}
	case '$':
		if tag, ok := dollarTag(s.src[s.pos:]); ok {
			body := s.src[s.pos+len(tag):]
			if i := strings.Index(body, tag); i >= 0 {
				s.pos += len(tag) + i + len(tag)
			} else {
				s.pos = len(s.src)
			}
			return
		}
		s.pos++
	default:
		s.pos++
	}
}

// dollarTag returns the opening tag ("$$" or "$name$") at the start of s.
func dollarTag(s string) (string, bool) {
	end := strings.IndexByte(s[1:], '$')
	if end < 0 {
		return "", false
	}
	tag := s[:end+2]
	for _, r := range tag[1 : len(tag)-1] {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return "", false
		}
	}
	if len(tag) > 2 && tag[1] >= '0' && tag[1] <= '9' {
		// $1 style placeholders
		return "", false
	}
	return tag, true
}
