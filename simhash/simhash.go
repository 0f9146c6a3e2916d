// Package simhash fingerprints DOM structure so rendered pages can be
// compared against the skeletal shapes of known bot-challenge
// interstitials. Challenge pages rewrite their copy and class names
// frequently but keep a recognizable tag structure; a 64-bit SimHash over
// tag-sequence shingles survives those cosmetic edits.
package simhash

import (
	"hash/fnv"
	"math/bits"
	"strings"

	"golang.org/x/net/html"
)

// shingleSize is the tag n-gram width. Three tags is enough to make
// ordering matter without over-penalizing small insertions.
const shingleSize = 3

// FingerprintDOM computes a SimHash of the markup's tag structure. Text
// content and attributes are ignored so the fingerprint tracks layout
// shape, not copy. Returns 0 for markup containing no tags.
func FingerprintDOM(htmlStr string) uint64 {
	tags := extractTags(htmlStr)
	if len(tags) == 0 {
		return 0
	}

	shingles := makeShingles(tags, shingleSize)
	if len(shingles) == 0 {
		// Too few tags for shingles: hash the bare tag sequence.
		return fingerprintTokens(tags)
	}

	return fingerprintTokens(shingles)
}

// Distance returns the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Similar reports whether two fingerprints are within threshold bits of
// each other.
func Similar(a, b uint64, threshold int) bool {
	return Distance(a, b) <= threshold
}

// fingerprintTokens folds FNV-64a token hashes into a SimHash bit vector.
func fingerprintTokens(tokens []string) uint64 {
	if len(tokens) == 0 {
		return 0
	}

	var vector [64]int

	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		hash := h.Sum64()

		for i := 0; i < 64; i++ {
			if hash&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}

	var fingerprint uint64
	for i := 0; i < 64; i++ {
		if vector[i] > 0 {
			fingerprint |= 1 << uint(i)
		}
	}

	return fingerprint
}

// extractTags walks the markup with the tokenizer and collects open tag
// names in document order.
func extractTags(htmlStr string) []string {
	tokenizer := html.NewTokenizer(strings.NewReader(htmlStr))
	var tags []string

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return tags
		case html.StartTagToken, html.SelfClosingTagToken:
			tn, _ := tokenizer.TagName()
			tags = append(tags, string(tn))
		}
	}
}

// makeShingles creates n-gram shingles from a token sequence.
func makeShingles(tokens []string, n int) []string {
	if len(tokens) < n {
		return nil
	}

	shingles := make([]string, 0, len(tokens)-n+1)
	for i := 0; i <= len(tokens)-n; i++ {
		shingles = append(shingles, strings.Join(tokens[i:i+n], "_"))
	}
	return shingles
}
