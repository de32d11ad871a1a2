// Package mint recognizes token mint addresses inside free-form message text.
package mint

import (
	"regexp"
	"strings"
)

// Address is a token mint address as it appeared in a message.
type Address = string

// Marker precedes the address in the signal format most monitored channels use.
const Marker = "💵:"

// Alphabet is the base58 alphabet: digits and letters without 0, O, I and l.
const Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// AddressLen is the length of a bare (unmarked) address.
const AddressLen = 44

var (
	runRe  = regexp.MustCompile(`^[A-Za-z0-9]+`)
	bareRe = regexp.MustCompile(`[` + Alphabet + `]{44}`)
)

// Extract returns the first mint address found in text.
//
// Only the first marker counts: when an alphanumeric run follows it, that run
// wins over everything else. Otherwise the leftmost run of 44 base58
// characters is returned; a longer run yields its first 44 characters.
func Extract(text string) (Address, bool) {
	if text == "" {
		return "", false
	}
	if i := strings.Index(text, Marker); i >= 0 {
		if run := runRe.FindString(text[i+len(Marker):]); run != "" {
			return run, true
		}
	}
	if s := bareRe.FindString(text); s != "" {
		return s, true
	}
	return "", false
}
