// Package simhash computes locality-sensitive fingerprints of text for
// near-duplicate detection. Two texts that differ by a word or two produce
// digests within a small Hamming distance of each other, so "did I already
// store this?" becomes a cheap bit-count instead of an embedding call.
package simhash

import (
	"fmt"
	"strings"
)

// NearDuplicateThreshold is the maximum Hamming distance at which two
// fingerprints are considered near-duplicates.
const NearDuplicateThreshold = 3

// DigestLen is the length in hex characters of a fingerprint.
const DigestLen = 16

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "her": true,
	"was": true, "one": true, "our": true, "out": true, "has": true,
	"had": true, "his": true, "have": true, "this": true, "that": true,
	"with": true, "from": true, "they": true, "will": true, "been": true,
	"were": true, "into": true, "than": true, "them": true, "then": true,
	"when": true, "what": true, "your": true, "about": true, "would": true,
	"there": true, "their": true, "which": true, "because": true,
}

// Tokenize canonicalizes text into a lowercase token set: non-alphanumerics
// stripped, tokens of length <= 2 dropped, stopwords dropped.
func Tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	var current strings.Builder
	flush := func() {
		if current.Len() > 2 {
			tok := current.String()
			if !stopwords[tok] {
				tokens[tok] = true
			}
		}
		current.Reset()
	}
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// tokenHash is a 32-bit rolling hash with explicit wraparound: the classic
// h = (h<<5) - h + code accumulator. The int32 overflow semantics are
// load-bearing here; fingerprints must be bit-identical across platforms
// and reimplementations, so this must never be widened to int64.
func tokenHash(token string) int32 {
	var h int32
	for _, r := range token {
		h = (h << 5) - h + int32(r)
	}
	return h
}

// Fingerprint returns the 64-bit SimHash of text as a 16-character hex
// digest. Each token votes on all 64 bits; bit i of the digest reflects the
// sign of the vote. The token hash is only 32 bits wide, so bit i mod 32 of
// the hash drives vote i — the high 32 votes repeat the low pattern, which
// is intentional and preserved for digest compatibility.
func Fingerprint(text string) string {
	var votes [64]int
	for tok := range Tokenize(text) {
		h := uint32(tokenHash(tok))
		for i := 0; i < 64; i++ {
			if h>>(uint(i)%32)&1 == 1 {
				votes[i]++
			} else {
				votes[i]--
			}
		}
	}

	var digest uint64
	for i := 0; i < 64; i++ {
		if votes[i] > 0 {
			digest |= 1 << uint(i)
		}
	}
	return fmt.Sprintf("%016x", digest)
}

// HammingDistance counts differing bits between two equal-length hex
// digests. Malformed digests compare as maximally distant.
func HammingDistance(a, b string) int {
	if len(a) != len(b) {
		return 64
	}
	dist := 0
	for i := 0; i < len(a); i++ {
		da, okA := hexVal(a[i])
		db, okB := hexVal(b[i])
		if !okA || !okB {
			return 64
		}
		x := da ^ db
		for x != 0 {
			dist += int(x & 1)
			x >>= 1
		}
	}
	return dist
}

// NearDuplicate reports whether two digests are within the fixed
// near-duplicate threshold.
func NearDuplicate(a, b string) bool {
	return HammingDistance(a, b) <= NearDuplicateThreshold
}

// TokenOverlap returns |tokens(query) ∩ tokens(content)| / |tokens(query)|,
// using the same tokenizer as Fingerprint. An empty query yields 0.
func TokenOverlap(query, content string) float64 {
	qTokens := Tokenize(query)
	if len(qTokens) == 0 {
		return 0
	}
	cTokens := Tokenize(content)
	shared := 0
	for tok := range qTokens {
		if cTokens[tok] {
			shared++
		}
	}
	return float64(shared) / float64(len(qTokens))
}

func hexVal(c byte) (uint8, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
