// Package scan flags risky prompts before they are submitted.
//
// The scanner is a pure function over a fixed keyword list: no state,
// no I/O, no failure cases. Warnings are advisory only and never block
// a submission.
package scan

import (
	"fmt"
	"regexp"
)

// Keywords is the fixed list of sensitive terms, in the order warnings
// are reported. Matching is case-insensitive and whole-word, so
// "password" does not match inside "mypassword123".
var Keywords = []string{
	"delete",
	"remove",
	"drop",
	"password",
	"secret",
	"api key",
	"private key",
	"rm -rf",
	"destroy",
	"credentials",
}

var patterns []*regexp.Regexp

func init() {
	patterns = make([]*regexp.Regexp, len(Keywords))
	for i, kw := range Keywords {
		patterns[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
	}
}

// Scan returns one warning per matched keyword, in Keywords order
// regardless of where the keyword appears in text.
func Scan(text string) []string {
	var warnings []string
	for i, p := range patterns {
		if p.MatchString(text) {
			warnings = append(warnings, fmt.Sprintf(
				"Your prompt contains the potentially risky keyword %q. Make sure you are not about to perform a destructive action or expose sensitive information.",
				Keywords[i]))
		}
	}
	return warnings
}
