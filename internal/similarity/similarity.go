// Package similarity holds the text and vector similarity primitives shared by
// retrieval, repetition detection and the quality gate.
package similarity

import (
	"encoding/binary"
	"math"
	"regexp"
	"strings"
)

// ============================================================================
// VECTORS
// ============================================================================

// Cosine returns the cosine similarity of a and b in [-1, 1].
// Mismatched lengths, empty vectors and zero-norm vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// clamp float drift so self-similarity is exactly 1
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

// EncodeVector packs a vector as little-endian float32 for BLOB storage.
func EncodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector. Malformed input returns nil.
func DecodeVector(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// ============================================================================
// TEXT
// ============================================================================

var (
	nonWord    = regexp.MustCompile(`[^\w\s]`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Normalize lowercases, strips punctuation and collapses whitespace.
func Normalize(text string) string {
	s := strings.ToLower(text)
	s = nonWord.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// WordSet returns the distinct whitespace-separated words of text.
func WordSet(text string) map[string]struct{} {
	words := strings.Fields(text)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Jaccard is |A ∩ B| / |A ∪ B| over the word sets of a and b. The inputs
// are used as-is; callers normalize first when they need to.
// Two empty strings are considered identical.
func Jaccard(a, b string) float64 {
	setA, setB := WordSet(a), WordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}

	inter := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

// WordOverlap counts the words of a (in order, with duplicates) that also
// appear in b, divided by the longer word count. Both inputs are lowercased
// and split on whitespace.
func WordOverlap(a, b string) float64 {
	wordsA := strings.Fields(strings.ToLower(a))
	wordsB := strings.Fields(strings.ToLower(b))
	longest := max(len(wordsA), len(wordsB))
	if longest == 0 {
		return 0
	}

	inB := make(map[string]struct{}, len(wordsB))
	for _, w := range wordsB {
		inB[w] = struct{}{}
	}
	common := 0
	for _, w := range wordsA {
		if _, ok := inB[w]; ok {
			common++
		}
	}
	return float64(common) / float64(longest)
}
