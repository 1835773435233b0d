package tokens

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
	tiktoken "github.com/weaviate/tiktoken-go"
)

// CodecFactory hands out tokenizers backed by github.com/tiktoken-go/tokenizer.
// The codec tables are loaded once per factory; every acquired Tokenizer
// shares them read-only, so encoding stays deterministic.
type CodecFactory struct {
	encoding string

	once  sync.Once
	codec tokenizer.Codec
	err   error
}

func NewCodecFactory(encoding string) *CodecFactory {
	return &CodecFactory{encoding: encoding}
}

func (f *CodecFactory) NewTokenizer() (Tokenizer, error) {
	f.once.Do(func() {
		f.codec, f.err = tokenizer.Get(tokenizer.Encoding(f.encoding))
		if f.err != nil {
			f.err = errors.Wrapf(f.err, "could not load codec %s", f.encoding)
		}
	})
	if f.err != nil {
		return nil, f.err
	}
	return &codecTokenizer{codec: f.codec}, nil
}

type codecTokenizer struct {
	codec tokenizer.Codec
}

func (c *codecTokenizer) Encode(text string) ([]uint, error) {
	if c.codec == nil {
		return nil, errors.New("tokenizer already released")
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode text")
	}
	return ids, nil
}

func (c *codecTokenizer) Release() {
	c.codec = nil
}

// TiktokenFactory hands out tokenizers backed by github.com/weaviate/tiktoken-go.
type TiktokenFactory struct {
	encoding string
}

func NewTiktokenFactory(encoding string) *TiktokenFactory {
	return &TiktokenFactory{encoding: encoding}
}

func (f *TiktokenFactory) NewTokenizer() (Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(f.encoding)
	if err != nil {
		return nil, errors.Wrapf(err, "could not load encoding %s", f.encoding)
	}
	return &tiktokenTokenizer{enc: enc}, nil
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t *tiktokenTokenizer) Encode(text string) ([]uint, error) {
	if t.enc == nil {
		return nil, errors.New("tokenizer already released")
	}
	ids := t.enc.Encode(text, nil, nil)
	ret := make([]uint, len(ids))
	for i, id := range ids {
		ret[i] = uint(id)
	}
	return ret, nil
}

func (t *tiktokenTokenizer) Release() {
	t.enc = nil
}
