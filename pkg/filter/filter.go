// Package filter implements the keyword content filter: a case-insensitive
// substring scan over raw bytes, and the gate that decides whether a
// response's content warrants that scan at all.
package filter

import (
	"strings"

	"github.com/keywordgate/proxy/pkg/httpmsg"
)

// Keywords is the frozen, case-insensitive keyword list. Order and
// contents are fixed for test determinism.
var Keywords = []string{
	"spongebob",
	"britney spears",
	"paris hilton",
	"norrkoping",
	"norrkÃ¶ping",
	"norrk%C3%B6ping",
	"norrk%C3%96ping",
	"norrkoeping",
}

// Match returns the first Keywords entry buf contains as a
// case-insensitive substring, and whether one was found.
func Match(buf []byte) (string, bool) {
	lower := strings.ToLower(string(buf))
	for _, word := range Keywords {
		if strings.Contains(lower, strings.ToLower(word)) {
			return word, true
		}
	}
	return "", false
}

// ContainsKeyword reports whether buf contains any Keywords entry as a
// case-insensitive substring.
func ContainsKeyword(buf []byte) bool {
	_, found := Match(buf)
	return found
}

// ShouldApplyContentFilter reports whether the content filter should run
// over a response body: the Content-Type field contains "text" as a
// substring, and no Content-Encoding is present other than "identity".
// An encoded body would never match a plaintext keyword scan.
func ShouldApplyContentFilter(resp *httpmsg.Response) bool {
	isText := false
	if contentType, ok := resp.Fields.Get("Content-Type"); ok {
		isText = strings.Contains(contentType, "text")
	}

	isEncoded := false
	if encoding, ok := resp.Fields.Get("Content-Encoding"); ok {
		isEncoded = strings.ToLower(strings.TrimSpace(encoding)) != "identity"
	}

	return isText && !isEncoded
}
