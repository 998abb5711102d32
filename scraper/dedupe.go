package scraper

import (
	"strings"

	"github.com/Mikkicon/bellflow/simhash"
)

// DefaultDedupeDistance is the largest Hamming distance at which two posts
// count as the same post.
const DefaultDedupeDistance = 3

// DedupeRaw drops elements whose text is a near-duplicate of an earlier
// element. Nested matches (a post wrapper and the post inside it) are the
// usual source. Elements without text are compared by markup structure.
func DedupeRaw(raws []RawPost, maxDistance int) []RawPost {
	seen := make([]uint64, 0, len(raws))
	out := raws[:0:0]
	for _, r := range raws {
		var fp uint64
		if text := strings.TrimSpace(r.Text); text != "" {
			fp = simhash.Fingerprint(text)
		} else {
			fp = simhash.FingerprintDOM(r.HTML)
		}
		if fp == 0 {
			out = append(out, r)
			continue
		}
		if simhash.SimilarToAny(fp, seen, maxDistance) {
			continue
		}
		seen = append(seen, fp)
		out = append(out, r)
	}
	return out
}
