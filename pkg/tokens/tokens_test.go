package tokens

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecFactoryIsDeterministic(t *testing.T) {
	f := NewCodecFactory("cl100k_base")

	first, err := Count(f, "Hello, how are you today?")
	require.NoError(t, err)
	assert.Greater(t, first, 0)

	second, err := Count(f, "Hello, how are you today?")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	empty, err := Count(f, "")
	require.NoError(t, err)
	assert.Equal(t, 0, empty)
}

func TestReleasedTokenizerRefusesWork(t *testing.T) {
	tok, err := NewCodecFactory("cl100k_base").NewTokenizer()
	require.NoError(t, err)
	tok.Release()

	_, err = tok.Encode("hi")
	assert.Error(t, err)
}

func TestUnknownEncoding(t *testing.T) {
	_, err := Count(NewCodecFactory("no_such_encoding"), "hi")
	assert.Error(t, err)
}

func TestNewFactory(t *testing.T) {
	f, err := NewFactory("", "")
	require.NoError(t, err)
	assert.IsType(t, &CodecFactory{}, f)

	f, err = NewFactory(BackendTiktoken, "cl100k_base")
	require.NoError(t, err)
	assert.IsType(t, &TiktokenFactory{}, f)

	_, err = NewFactory("sentencepiece", "")
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}

func TestEncodingForModel(t *testing.T) {
	tests := []struct {
		model    string
		expected string
	}{
		{"gpt-4", "cl100k_base"},
		{"gpt-4-32k", "cl100k_base"},
		{"gpt-3.5-turbo", "cl100k_base"},
		{"text-davinci-003", "p50k_base"},
		{"davinci", "r50k_base"},
		{"", DefaultEncoding},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.expected, EncodingForModel(tt.model))
		})
	}
}
