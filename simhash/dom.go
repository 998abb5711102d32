package simhash

import (
	"strings"

	"golang.org/x/net/html"
)

// FingerprintDOM fingerprints the tag structure of a post's markup.
// Tags carrying a data-testid are keyed by it, so two media-only posts with
// the same layout collapse while a post and its quoted post do not.
func FingerprintDOM(markup string) uint64 {
	tags := structure(markup)
	if len(tags) == 0 {
		return 0
	}
	shingles := shingle(tags, 3)
	if len(shingles) == 0 {
		return fingerprintTokens(tags)
	}
	return fingerprintTokens(shingles)
}

// structure collects open tags in document order.
func structure(markup string) []string {
	z := html.NewTokenizer(strings.NewReader(markup))
	var tags []string
	for {
		switch z.Next() {
		case html.ErrorToken:
			return tags
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				if string(key) == "data-testid" {
					tag += "#" + string(val)
					break
				}
			}
			tags = append(tags, tag)
		}
	}
}

func shingle(tokens []string, n int) []string {
	if len(tokens) < n {
		return nil
	}
	out := make([]string, 0, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		out = append(out, strings.Join(tokens[i:i+n], "_"))
	}
	return out
}
