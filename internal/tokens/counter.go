package tokens

import (
	"bytes"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/agentic-research/sift/internal/logging"
)

// DefaultEncoding is the tokenizer used when none is configured.
const DefaultEncoding = "cl100k_base"

// EncodingApprox selects the Approx counter.
const EncodingApprox = "approx"

// Counter measures the token cost of text.
type Counter interface {
	Count(text []byte) int
}

// CounterFunc adapts a function to Counter.
type CounterFunc func([]byte) int

func (f CounterFunc) Count(text []byte) int { return f(text) }

// Approx estimates one token per four bytes.
type Approx struct{}

func (Approx) Count(text []byte) int { return (len(text) + 3) / 4 }

// Tiktoken counts tokens with a BPE encoding.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

// Count encodes text with special tokens allowed, so files mentioning them
// still count instead of failing.
func (t *Tiktoken) Count(text []byte) int {
	return len(t.enc.Encode(string(text), []string{"all"}, nil))
}

// NewCounter returns the counter for encoding, falling back to Approx when the
// encoding cannot be loaded.
func NewCounter(encoding string) Counter {
	if encoding == EncodingApprox {
		return Approx{}
	}
	if encoding == "" {
		encoding = DefaultEncoding
	}
	t, err := NewTiktoken(encoding)
	if err != nil {
		logging.Named("tokens").Warn("tokenizer unavailable, using approximation", zap.Error(err))
		return Approx{}
	}
	return t
}

// CountFile counts the tokens of the file at path. Invalid UTF-8 sequences
// count as U+FFFD; unreadable files count as zero.
func CountFile(c Counter, path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, []byte(string(utf8.RuneError)))
	}
	return c.Count(data)
}
