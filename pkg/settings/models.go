package settings

import (
	"sort"

	"github.com/go-go-golems/branchchat/pkg/conversation"
	"github.com/pkg/errors"
)

const (
	DefaultModelID     = "gpt-3.5-turbo"
	DefaultTemperature = 1.0
)

var ErrUnknownModel = errors.New("unknown model")

// Models lists the chat models a conversation can use. TokenLimit is the
// context window used to fit messages, MaxLength the longest prompt in
// characters accepted from the user.
var Models = map[string]conversation.Model{
	"gpt-3.5-turbo": {
		ID:         "gpt-3.5-turbo",
		Name:       "GPT-3.5",
		MaxLength:  12000,
		TokenLimit: 4000,
	},
	"gpt-4": {
		ID:         "gpt-4",
		Name:       "GPT-4",
		MaxLength:  24000,
		TokenLimit: 8000,
	},
	"gpt-4-32k": {
		ID:         "gpt-4-32k",
		Name:       "GPT-4-32K",
		MaxLength:  96000,
		TokenLimit: 32000,
	},
}

func LookupModel(id string) (conversation.Model, bool) {
	m, ok := Models[id]
	return m, ok
}

func DefaultModel() conversation.Model {
	return Models[DefaultModelID]
}

// ModelIDs returns the known model ids in sorted order.
func ModelIDs() []string {
	ret := make([]string, 0, len(Models))
	for id := range Models {
		ret = append(ret, id)
	}
	sort.Strings(ret)
	return ret
}
