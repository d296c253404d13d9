// internal/predict/lexer.go
package predict

import "strings"

// StripComments removes shell comments from command. A '#' only starts a
// comment at the beginning of a word and outside quotes; backslash escapes are
// honoured.
func StripComments(command string) string {
	var b strings.Builder
	b.Grow(len(command))

	runes := []rune(command)
	inSingle, inDouble := false, false

	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\\' && !inSingle:
			b.WriteRune(c)
			if i+1 < len(runes) {
				i++
				b.WriteRune(runes[i])
			}
			continue
		case c == '\'' && !inDouble:
			inSingle = !inSingle
		case c == '"' && !inSingle:
			inDouble = !inDouble
		case c == '#' && !inSingle && !inDouble && wordStart(runes, i):
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			if i < len(runes) {
				b.WriteRune('\n')
			}
			continue
		}
		b.WriteRune(c)
	}

	return b.String()
}

func wordStart(runes []rune, i int) bool {
	if i == 0 {
		return true
	}
	switch runes[i-1] {
	case ' ', '\t', '\n', ';', '&', '|', '(':
		return true
	}
	return false
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokControl
	tokRedirect
)

type token struct {
	kind tokenKind
	text string
}

// lex splits a comment-free command into words, control operators and
// redirection operators. Quotes are removed from words; command and process
// substitutions are kept verbatim inside their word so callers can reject them.
func lex(command string) []token {
	var (
		tokens   []token
		word     strings.Builder
		hasWord  bool
		heredocs []string
		inSingle bool
		inDouble bool
	)

	runes := []rune(command)
	flush := func() {
		if hasWord {
			tokens = append(tokens, token{kind: tokWord, text: word.String()})
		}
		word.Reset()
		hasWord = false
	}
	emit := func(kind tokenKind, text string) {
		flush()
		tokens = append(tokens, token{kind: kind, text: text})
	}
	peek := func(i int) rune {
		if i < len(runes) {
			return runes[i]
		}
		return 0
	}

	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if inSingle {
			if c == '\'' {
				inSingle = false
			} else {
				word.WriteRune(c)
			}
			continue
		}

		if c == '\\' {
			if next := peek(i + 1); next == '\n' {
				i++
			} else if next != 0 {
				word.WriteRune(next)
				hasWord = true
				i++
			}
			continue
		}

		if c == '`' || (c == '$' && peek(i+1) == '(') {
			end := substitutionEnd(runes, i)
			word.WriteString(string(runes[i:end]))
			hasWord = true
			i = end - 1
			continue
		}

		if inDouble {
			if c == '"' {
				inDouble = false
			} else {
				word.WriteRune(c)
			}
			continue
		}

		switch c {
		case '\'':
			inSingle = true
			hasWord = true
		case '"':
			inDouble = true
			hasWord = true
		case ' ', '\t', '\r':
			flush()
		case '\n':
			emit(tokControl, ";")
			if len(heredocs) > 0 {
				i = skipHeredocBodies(runes, i+1, heredocs) - 1
				heredocs = nil
			}
		case ';', '(', ')':
			emit(tokControl, ";")
		case '&':
			switch peek(i + 1) {
			case '&':
				emit(tokControl, "&&")
				i++
			case '>':
				if peek(i+2) == '>' {
					emit(tokRedirect, ">>")
					i += 2
				} else {
					emit(tokRedirect, ">")
					i++
				}
			default:
				emit(tokControl, "&")
			}
		case '|':
			if peek(i+1) == '|' {
				emit(tokControl, "||")
				i++
			} else {
				if peek(i+1) == '&' {
					i++
				}
				emit(tokControl, "|")
			}
		case '>':
			if hasWord && isDigits(word.String()) {
				word.Reset()
				hasWord = false
			}
			switch peek(i + 1) {
			case '>':
				emit(tokRedirect, ">>")
				i++
			case '&':
				emit(tokRedirect, ">&")
				i++
			case '|':
				emit(tokRedirect, ">")
				i++
			default:
				emit(tokRedirect, ">")
			}
		case '<':
			switch {
			case peek(i+1) == '<' && peek(i+2) == '<':
				emit(tokRedirect, "<<<")
				i += 2
			case peek(i+1) == '<':
				i++
				if peek(i+1) == '-' {
					i++
				}
				emit(tokRedirect, "<<")
				delim, next := heredocDelimiter(runes, i+1)
				if delim != "" {
					heredocs = append(heredocs, delim)
					tokens = append(tokens, token{kind: tokWord, text: delim})
				}
				i = next - 1
			default:
				emit(tokRedirect, "<")
			}
		default:
			word.WriteRune(c)
			hasWord = true
		}
	}
	flush()

	return tokens
}

// substitutionEnd returns the index just past a `...` or $(...) that starts
// at i. Unterminated substitutions run to the end of input.
func substitutionEnd(runes []rune, i int) int {
	if runes[i] == '`' {
		for j := i + 1; j < len(runes); j++ {
			if runes[j] == '\\' {
				j++
				continue
			}
			if runes[j] == '`' {
				return j + 1
			}
		}
		return len(runes)
	}

	depth := 0
	for j := i + 1; j < len(runes); j++ {
		switch runes[j] {
		case '\\':
			j++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return j + 1
			}
		}
	}
	return len(runes)
}

func heredocDelimiter(runes []rune, i int) (string, int) {
	for i < len(runes) && (runes[i] == ' ' || runes[i] == '\t') {
		i++
	}
	var b strings.Builder
	for i < len(runes) {
		c := runes[i]
		if c == ' ' || c == '\t' || c == '\n' || c == ';' || c == '&' || c == '|' || c == '>' || c == '<' {
			break
		}
		if c != '\'' && c != '"' && c != '\\' {
			b.WriteRune(c)
		}
		i++
	}
	return b.String(), i
}

// skipHeredocBodies consumes here-document bodies starting at i, one per
// delimiter in order, and returns the index of the first unconsumed rune.
func skipHeredocBodies(runes []rune, i int, delims []string) int {
	for _, delim := range delims {
		for i < len(runes) {
			end := i
			for end < len(runes) && runes[end] != '\n' {
				end++
			}
			line := strings.TrimLeft(string(runes[i:end]), "\t")
			i = end + 1
			if line == delim {
				break
			}
		}
	}
	if i > len(runes) {
		return len(runes)
	}
	return i
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// segment is one simple command: its words plus any redirections.
type segment struct {
	words     []string
	redirects []redirect
	heredoc   bool
}

type redirect struct {
	op     string
	target string
}

func splitSegments(tokens []token) []segment {
	var (
		segments []segment
		current  segment
	)

	push := func() {
		if len(current.words) > 0 || len(current.redirects) > 0 {
			segments = append(segments, current)
		}
		current = segment{}
	}

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok.kind {
		case tokControl:
			push()
		case tokRedirect:
			if i+1 < len(tokens) && tokens[i+1].kind == tokWord {
				i++
				switch tok.text {
				case "<<":
					current.heredoc = true
				case "<", "<<<":
				default:
					current.redirects = append(current.redirects, redirect{op: tok.text, target: tokens[i].text})
				}
			}
		default:
			current.words = append(current.words, tok.text)
		}
	}
	push()

	return segments
}
