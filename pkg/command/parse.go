package command

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Invocation is a mention followed by a verb, as found in free-form text.
type Invocation struct {
	Verb string
	Args []string
}

// Parse finds the first occurrence of mention followed by whitespace and
// returns the verb after it, which may sit on a later line, with the
// arguments that follow the verb on its own line. ok is false when no
// trigger carries a verb.
func Parse(text, mention string) (inv Invocation, ok bool) {
	if mention == "" {
		return Invocation{}, false
	}
	for start := 0; ; {
		i := strings.Index(text[start:], mention)
		if i < 0 {
			return Invocation{}, false
		}
		start += i + len(mention)
		after := text[start:]
		if !followedBySpace(after) {
			continue
		}
		line, _, _ := strings.Cut(strings.TrimLeftFunc(after, unicode.IsSpace), "\n")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		return Invocation{Verb: fields[0], Args: fields[1:]}, true
	}
}

// followedBySpace rejects longer handles, so "@patrol-bot" never matches "@patrol".
func followedBySpace(after string) bool {
	r, _ := utf8.DecodeRuneInString(after)
	return after != "" && unicode.IsSpace(r)
}
