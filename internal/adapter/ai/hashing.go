package ai

import (
	"context"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/arturoeanton/codequery/internal/port"
)

// HashingEmbedder is the local fallback: a term-frequency vector built by
// feature hashing identifier tokens into a fixed number of buckets. It never
// fails and needs no network.
type HashingEmbedder struct {
	dimension int
}

var _ port.Embedder = (*HashingEmbedder)(nil)

// NewHashingEmbedder creates a hashing embedder producing vectors of length
// dimension.
func NewHashingEmbedder(dimension int) *HashingEmbedder {
	if dimension <= 0 {
		dimension = 384
	}
	return &HashingEmbedder{dimension: dimension}
}

func (h *HashingEmbedder) ModelName() string {
	return "hashing-tf-" + strconv.Itoa(h.dimension)
}

func (h *HashingEmbedder) Dimension() int {
	return h.dimension
}

func (h *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return h.vector(text), nil
}

func (h *HashingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *HashingEmbedder) vector(text string) []float32 {
	counts := make(map[uint32]int)
	for _, tok := range Tokenize(text) {
		f := fnv.New32a()
		f.Write([]byte(tok))
		counts[f.Sum32()%uint32(h.dimension)]++
	}

	vec := make([]float32, h.dimension)
	for bucket, tf := range counts {
		vec[bucket] = float32(1 + math.Log(float64(tf)))
	}
	return normalize(vec)
}

// Tokenize splits text into lowercase, stemmed identifier parts with
// stopwords removed. "validateEmail" and "validate_email" both yield
// [validat email].
func Tokenize(text string) []string {
	var tokens []string
	for _, word := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		for _, part := range splitIdentifier(word) {
			part = strings.ToLower(part)
			if len(part) < 2 || isNumber(part) || stopwords[part] {
				continue
			}
			tokens = append(tokens, stem(part))
		}
	}
	return tokens
}

// splitIdentifier breaks camelCase, PascalCase and letter/digit boundaries.
// "HTTPServer2Go" becomes [HTTP Server 2 Go].
func splitIdentifier(word string) []string {
	runes := []rune(word)
	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := false
		switch {
		case unicode.IsLower(prev) && unicode.IsUpper(cur):
			boundary = true
		case unicode.IsLetter(prev) != unicode.IsLetter(cur):
			boundary = true
		case unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
			boundary = true
		}
		if boundary {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	return append(parts, string(runes[start:]))
}

func stem(word string) string {
	n := len(word)
	switch {
	case n > 4 && strings.HasSuffix(word, "ies"):
		word = word[:n-3] + "y"
	case n > 5 && strings.HasSuffix(word, "ing"):
		word = word[:n-3]
	case n > 5 && strings.HasSuffix(word, "ion"):
		word = word[:n-3]
	case n > 4 && strings.HasSuffix(word, "ed"):
		word = word[:n-2]
	case n > 4 && strings.HasSuffix(word, "es"):
		word = word[:n-2]
	case n > 3 && strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss"):
		word = word[:n-1]
	}
	if len(word) > 3 && strings.HasSuffix(word, "e") {
		word = word[:len(word)-1]
	}
	return word
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// normalize scales v to unit length in place. A zero vector is returned as is.
func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "do": true, "does": true, "for": true, "from": true, "how": true, "if": true,
	"in": true, "into": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "the": true, "this": true, "that": true, "to": true, "was": true, "what": true,
	"when": true, "where": true, "which": true, "who": true, "why": true, "with": true,
	"can": true, "there": true, "these": true, "those": true, "we": true, "you": true,
}
