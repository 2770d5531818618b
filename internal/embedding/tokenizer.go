package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// BERT special token ids shared by the word-hash vocabulary.
const (
	padTokenID  = 0
	clsTokenID  = 101
	sepTokenID  = 102
	firstWordID = 1000
)

// DefaultVocabSize matches the word-piece vocabulary size of MiniLM-style models.
const DefaultVocabSize = 30522

// Encoding is the model input for one text, padded to a fixed length.
type Encoding struct {
	IDs           []int64
	AttentionMask []int64
	TypeIDs       []int64
}

// Tokenizer encodes text into fixed-length BERT-style model inputs.
type Tokenizer interface {
	Encode(text string, maxTokens int) Encoding
}

// HashTokenizer maps lower-cased words and punctuation marks to ids by hashing into the
// vocabulary range. It stands in when no word-piece vocabulary is bundled with a model.
type HashTokenizer struct {
	VocabSize int
}

// Encode returns [CLS] tokens... [SEP] followed by padding, truncated to maxTokens.
func (t HashTokenizer) Encode(text string, maxTokens int) Encoding {
	if maxTokens < 2 {
		maxTokens = 2
	}
	vocab := t.VocabSize
	if vocab <= firstWordID {
		vocab = DefaultVocabSize
	}
	enc := Encoding{
		IDs:           make([]int64, maxTokens),
		AttentionMask: make([]int64, maxTokens),
		TypeIDs:       make([]int64, maxTokens),
	}
	enc.IDs[0] = clsTokenID
	enc.AttentionMask[0] = 1
	pos := 1
	for _, tok := range SplitTokens(text) {
		if pos >= maxTokens-1 {
			break
		}
		enc.IDs[pos] = firstWordID + int64(hashToken(tok)%uint32(vocab-firstWordID))
		enc.AttentionMask[pos] = 1
		pos++
	}
	enc.IDs[pos] = sepTokenID
	enc.AttentionMask[pos] = 1
	return enc
}

// SplitTokens lower-cases text and splits it into runs of letters and digits, with every
// other non-space rune as its own token. Blank input yields nil.
func SplitTokens(text string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			tokens = append(tokens, string(r))
		}
	}
	flush()
	return tokens
}

func hashToken(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
