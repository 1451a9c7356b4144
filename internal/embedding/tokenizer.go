package embedding

import (
	"strings"
	"unicode"
)

// CLIP special tokens.
const (
	startOfText int64 = 49406
	endOfText   int64 = 49407
	// firstWordID skips the byte-level entries at the start of the vocabulary.
	firstWordID = 256
)

// Tokenizer produces CLIP text encoder input ids.
type Tokenizer interface {
	Tokenize(text string) []int64
}

// HashTokenizer lays text out as CLIP expects (start token, words, end token, zero padding to
// the context length) but maps each word to a hashed id instead of BPE pieces. The end token
// has the largest id, so models that pool at argmax(input_ids) still find it.
//
// The ids do not come from the pretrained CLIP vocabulary. A text model exported with the
// stock BPE vocabulary will embed these ids to vectors that do not line up with its image
// space, so text queries against such a model rank poorly. Image to image search is not
// affected. Text queries are only meaningful with a text model trained or fine-tuned on
// these hashed ids, or with the mock extractor.
type HashTokenizer struct {
	ContextLength int
}

// Tokenize returns exactly ContextLength ids.
func (t *HashTokenizer) Tokenize(text string) []int64 {
	n := t.ContextLength
	if n <= 2 {
		n = 77
	}
	ids := make([]int64, n)
	ids[0] = startOfText
	pos := 1
	for _, word := range SplitWords(text) {
		if pos >= n-1 {
			break
		}
		ids[pos] = int64(firstWordID + HashString(word)%int(startOfText-firstWordID))
		pos++
	}
	ids[pos] = endOfText
	return ids
}

// SplitWords lowercases text and splits it into letter/digit runs; punctuation becomes its own word.
func SplitWords(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			words = append(words, string(r))
		}
	}
	flush()
	return words
}

// HashString returns a deterministic non-negative hash for use as a token id.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	if h < 0 {
		h = 0
	}
	return h
}
