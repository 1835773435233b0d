// Package tokens wraps BPE tokenizers behind a small interface used for
// token budgeting. A Tokenizer is acquired from a Factory for the duration of
// one operation and released afterwards.
package tokens

import (
	"strings"

	"github.com/pkg/errors"
)

type Tokenizer interface {
	Encode(text string) ([]uint, error)
	// Release returns any resources held by the tokenizer. The tokenizer must
	// not be used afterwards.
	Release()
}

type Factory interface {
	NewTokenizer() (Tokenizer, error)
}

// FactoryFunc adapts a plain function to the Factory interface.
type FactoryFunc func() (Tokenizer, error)

func (f FactoryFunc) NewTokenizer() (Tokenizer, error) {
	return f()
}

type Backend string

const (
	BackendTokenizer Backend = "tokenizer"
	BackendTiktoken  Backend = "tiktoken"
)

const DefaultEncoding = "cl100k_base"

var ErrUnknownBackend = errors.New("unknown tokenizer backend")

// Count encodes text with a freshly acquired tokenizer and returns the number
// of tokens.
func Count(f Factory, text string) (int, error) {
	tok, err := f.NewTokenizer()
	if err != nil {
		return 0, err
	}
	defer tok.Release()

	ids, err := tok.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// EncodingForModel picks the BPE encoding used by an OpenAI model family.
func EncodingForModel(model string) string {
	switch {
	case strings.HasPrefix(model, "gpt-4"),
		strings.HasPrefix(model, "gpt-3.5-turbo"),
		strings.HasPrefix(model, "text-embedding-ada-002"):
		return "cl100k_base"
	case strings.HasPrefix(model, "text-davinci-002"), strings.HasPrefix(model, "text-davinci-003"):
		return "p50k_base"
	case model == "":
		return DefaultEncoding
	default:
		return "r50k_base"
	}
}

// NewFactory returns the factory for a backend and encoding name.
func NewFactory(backend Backend, encoding string) (Factory, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	switch backend {
	case BackendTokenizer, "":
		return NewCodecFactory(encoding), nil
	case BackendTiktoken:
		return NewTiktokenFactory(encoding), nil
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", backend)
	}
}
