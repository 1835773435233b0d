// Package settings holds the configuration of a chat session: which model to
// talk to and how, how to count tokens and where conversations are stored.
package settings

import (
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var ErrMissingAPIKey = errors.New("missing api key")

type ChatSettings struct {
	Model             string   `yaml:"model,omitempty"`
	Temperature       *float64 `yaml:"temperature,omitempty"`
	MaxResponseTokens *int     `yaml:"max_response_tokens,omitempty"`
	Stream            bool     `yaml:"stream"`
	SystemPrompt      string   `yaml:"system_prompt,omitempty"`
}

func (s *ChatSettings) Clone() *ChatSettings {
	return clone.Clone(s).(*ChatSettings)
}

type ClientSettings struct {
	APIKey         string         `yaml:"api_key,omitempty"`
	BaseURL        string         `yaml:"base_url,omitempty"`
	Organization   string         `yaml:"organization,omitempty"`
	Timeout        *time.Duration `yaml:"-"`
	TimeoutSeconds *int           `yaml:"timeout,omitempty"`
}

// UnmarshalYAML converts the timeout given in seconds into a time.Duration.
func (cs *ClientSettings) UnmarshalYAML(value *yaml.Node) error {
	type Alias ClientSettings
	aux := (*Alias)(cs)
	if err := value.Decode(aux); err != nil {
		return err
	}
	if cs.TimeoutSeconds != nil {
		t := time.Duration(*cs.TimeoutSeconds) * time.Second
		cs.Timeout = &t
	}
	return nil
}

type TokenizerSettings struct {
	// Backend is either "tokenizer" or "tiktoken".
	Backend string `yaml:"backend,omitempty"`
	// Encoding overrides the encoding derived from the model name.
	Encoding string `yaml:"encoding,omitempty"`
}

type StoreSettings struct {
	// Type is one of file, sqlite, redis, memory.
	Type string `yaml:"type,omitempty"`
	// Codec is one of json, yaml, cbor.
	Codec       string `yaml:"codec,omitempty"`
	Path        string `yaml:"path,omitempty"`
	RedisAddr   string `yaml:"redis_addr,omitempty"`
	RedisPrefix string `yaml:"redis_prefix,omitempty"`
}

// ExpandedPath returns Path with a leading ~ replaced by the home directory.
func (s *StoreSettings) ExpandedPath() (string, error) {
	if s.Path == "~" || strings.HasPrefix(s.Path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "could not determine home directory")
		}
		return filepath.Join(home, strings.TrimPrefix(s.Path, "~")), nil
	}
	return s.Path, nil
}

type Settings struct {
	Chat      *ChatSettings      `yaml:"chat,omitempty"`
	Client    *ClientSettings    `yaml:"client,omitempty"`
	Tokenizer *TokenizerSettings `yaml:"tokenizer,omitempty"`
	Store     *StoreSettings     `yaml:"store,omitempty"`
}

//go:embed "defaults.yaml"
var defaultsYAML []byte

// NewSettings returns the built-in defaults.
func NewSettings() (*Settings, error) {
	s := &Settings{
		Chat:      &ChatSettings{},
		Client:    &ClientSettings{},
		Tokenizer: &TokenizerSettings{},
		Store:     &StoreSettings{},
	}
	if err := yaml.Unmarshal(defaultsYAML, s); err != nil {
		return nil, errors.Wrap(err, "could not parse default settings")
	}
	return s, nil
}

// NewSettingsFromYAML layers b over the defaults. Keys missing from b keep
// their default value.
func NewSettingsFromYAML(b []byte) (*Settings, error) {
	s, err := NewSettings()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, errors.Wrap(err, "could not parse settings")
	}
	return s, nil
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

func (s *Settings) MaxResponseTokens() int {
	if s.Chat == nil || s.Chat.MaxResponseTokens == nil {
		return 0
	}
	return *s.Chat.MaxResponseTokens
}

func (s *Settings) Temperature() float64 {
	if s.Chat == nil || s.Chat.Temperature == nil {
		return DefaultTemperature
	}
	return *s.Chat.Temperature
}

// Validate checks what is needed to talk to a model.
func (s *Settings) Validate() error {
	if s.Client == nil || s.Client.APIKey == "" {
		return ErrMissingAPIKey
	}
	if s.Chat == nil || s.Chat.Model == "" {
		return errors.New("no model specified")
	}
	if _, ok := LookupModel(s.Chat.Model); !ok {
		return errors.Wrapf(ErrUnknownModel, "%s", s.Chat.Model)
	}
	return nil
}
