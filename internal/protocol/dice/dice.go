// Package dice owns the line-based dice service wire format.
//
// Commands are single lines of the form:
//
//	type\n
//	type:key=value;key=value;\n
//
// The client only ever sends bare "hello" and "roll". The server answers a
// roll with "won:result=<digits>;".
package dice

import (
	"errors"
	"regexp"
	"sort"
	"strings"
)

const (
	CommandHello = "hello"
	CommandRoll  = "roll"

	// MinResultLen is the shortest trimmed reply ever accepted as a result.
	MinResultLen = 13
	// MaxMessageLen mirrors the server's per-line cap and sizes the
	// client's read buffer.
	MaxMessageLen = 1536
)

var (
	ErrEmptyCommandType = errors.New("dice: empty command type")
	ErrInvalidArgument  = errors.New("dice: invalid argument")
)

var resultPattern = regexp.MustCompile(`^won:result=(\d+);$`)

// Command is one protocol line.
type Command struct {
	Type string
	Args map[string]string
}

// Encode renders c as a newline-terminated line. Argument keys are sorted so
// the output is stable.
func (c Command) Encode() ([]byte, error) {
	typ := strings.TrimSpace(c.Type)
	if typ == "" {
		return nil, ErrEmptyCommandType
	}
	if strings.ContainsAny(typ, ":\n") {
		return nil, ErrInvalidArgument
	}
	var b strings.Builder
	b.WriteString(typ)
	if len(c.Args) > 0 {
		keys := make([]string, 0, len(c.Args))
		for k := range c.Args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte(':')
		for _, k := range keys {
			v := c.Args[k]
			if k == "" || strings.ContainsAny(k, "=;\n") || strings.ContainsAny(v, ";\n") {
				return nil, ErrInvalidArgument
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
			b.WriteByte(';')
		}
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

var (
	helloLine = mustEncode(Command{Type: CommandHello})
	rollLine  = mustEncode(Command{Type: CommandRoll})
)

func mustEncode(c Command) []byte {
	line, err := c.Encode()
	if err != nil {
		panic(err)
	}
	return line
}

// Hello returns the greeting line.
func Hello() []byte {
	return append([]byte(nil), helloLine...)
}

// Roll returns the roll request line.
func Roll() []byte {
	return append([]byte(nil), rollLine...)
}

// Result is one interpreted roll reply.
type Result struct {
	Raw     string
	Value   string
	Matched bool
}

// ParseResult interprets one inbound chunk as a roll reply. A chunk that does
// not match is returned with Matched=false; it is never an error.
func ParseResult(data []byte) Result {
	raw := strings.TrimSpace(string(data))
	res := Result{Raw: raw}
	if len(raw) < MinResultLen {
		return res
	}
	m := resultPattern.FindStringSubmatch(raw)
	if m == nil {
		return res
	}
	res.Value = m[1]
	res.Matched = true
	return res
}
