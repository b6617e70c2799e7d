// Package caption cleans post captions before they are republished.
package caption

import "strings"

// Sanitize removes hashtags and turns mentions into plain words.
//
// Tokens are split on whitespace. "#tag" tokens are dropped, "@user" becomes "user",
// and everything else is kept as is. Each kept token is followed by a single space,
// so non-empty output ends with a trailing space.
func Sanitize(text string) string {
	var b strings.Builder
	for _, word := range strings.Fields(text) {
		switch word[0] {
		case '#':
			continue
		case '@':
			word = word[1:]
		}
		b.WriteString(word)
		b.WriteByte(' ')
	}
	return b.String()
}
