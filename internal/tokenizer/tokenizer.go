package tokenizer

import (
	"fmt"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// encodings caches loaded BPE tables by name; loading one is slow.
var encodings sync.Map // name -> *tiktoken.Tiktoken

// TikToken counts tokens with a tiktoken BPE encoding. It implements
// domain.Tokenizer.
type TikToken struct {
	name     string
	encoding *tiktoken.Tiktoken
}

// NewTikToken returns a counter for encodingName, e.g. "cl100k_base" or
// "o200k_base".
func NewTikToken(encodingName string) (*TikToken, error) {
	if enc, ok := encodings.Load(encodingName); ok {
		return &TikToken{name: encodingName, encoding: enc.(*tiktoken.Tiktoken)}, nil
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: unknown encoding %q: %w", encodingName, err)
	}
	actual, _ := encodings.LoadOrStore(encodingName, enc)
	return &TikToken{name: encodingName, encoding: actual.(*tiktoken.Tiktoken)}, nil
}

// Encoding returns the encoding name.
func (t *TikToken) Encoding() string { return t.name }

// CountTokens returns the number of tokens in text. Special tokens are
// counted as plain text.
func (t *TikToken) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	return len(t.encoding.Encode(text, nil, nil)), nil
}
