package router

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	kit "bongobot/internal/transport"
)

var ErrUsage = errors.New("usage")

// bindError carries a user-facing reason for a rejected invocation.
type bindError struct {
	reason string
}

func (e *bindError) Error() string { return e.reason }
func (e *bindError) Unwrap() error { return ErrUsage }

func usageErr(format string, args ...any) error {
	return &bindError{reason: fmt.Sprintf(format, args...)}
}

// bindTokens maps positional tokens onto params. When there are more tokens
// than params, the single text param takes the surplus, so
// "/addbirthday Ada Lovelace 12 10" binds name="Ada Lovelace".
func bindTokens(params []kit.CommandParam, tokens []string) (map[string]string, error) {
	out := make(map[string]string, len(params))
	if len(tokens) > len(params) {
		textIdx := -1
		for i, p := range params {
			if p.Kind == kit.ParamText {
				if textIdx >= 0 {
					return nil, usageErr("too many arguments")
				}
				textIdx = i
			}
		}
		if textIdx < 0 {
			return nil, usageErr("too many arguments")
		}
		extra := len(tokens) - len(params)
		merged := make([]string, 0, len(params))
		merged = append(merged, tokens[:textIdx]...)
		merged = append(merged, strings.Join(tokens[textIdx:textIdx+extra+1], " "))
		merged = append(merged, tokens[textIdx+extra+1:]...)
		tokens = merged
	}
	for i, p := range params {
		if i < len(tokens) {
			out[p.Name] = tokens[i]
		}
	}
	return checkParams(params, out)
}

// bindOptions validates named options supplied by platforms with native
// command schemas.
func bindOptions(params []kit.CommandParam, opts map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(params))
	for _, p := range params {
		if v, ok := opts[p.Name]; ok {
			out[p.Name] = v
		}
	}
	return checkParams(params, out)
}

func checkParams(params []kit.CommandParam, vals map[string]string) (map[string]string, error) {
	for _, p := range params {
		v := strings.TrimSpace(vals[p.Name])
		if v == "" {
			delete(vals, p.Name)
			if p.Required {
				return nil, usageErr("missing %s", p.Name)
			}
			continue
		}
		switch p.Kind {
		case kit.ParamInt:
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, usageErr("%s must be a number", p.Name)
			}
			if p.Max > p.Min && (n < p.Min || n > p.Max) {
				return nil, usageErr("%s must be between %d and %d", p.Name, p.Min, p.Max)
			}
			v = strconv.Itoa(n)
		case kit.ParamChannel:
			v = channelID(v)
		}
		vals[p.Name] = v
	}
	return vals, nil
}

// channelID strips a Discord "<#id>" mention down to the id.
func channelID(v string) string {
	if strings.HasPrefix(v, "<#") && strings.HasSuffix(v, ">") {
		return v[2 : len(v)-1]
	}
	return v
}

// tokenizeCommandLine splits command text into tokens while supporting quotes.
// A quote only opens at the start of a token, so "O'Neil" stays one word.
//
//	/addbirthday "Ada Lovelace" 12 10
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out    []string
		buf    strings.Builder
		inQ    bool
		qChar  rune
		esc    bool
		quoted bool
	)
	flush := func() {
		if buf.Len() > 0 || quoted {
			out = append(out, buf.String())
			buf.Reset()
		}
		quoted = false
	}
	for _, ch := range s {
		switch {
		case esc:
			buf.WriteRune(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ:
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteRune(ch)
		case buf.Len() == 0 && (ch == '"' || ch == '\'' || ch == '“'):
			inQ, quoted = true, true
			qChar = ch
			if ch == '“' {
				qChar = '”'
			}
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteRune(ch)
		}
	}
	flush()
	return out
}

// splitCommand returns the command word without the leading slash or
// "@botname" suffix, and the remaining tokens.
func splitCommand(text string) (string, []string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return "", nil
	}
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return strings.ToLower(word), parts[1:]
}
