package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-go-golems/branchchat/pkg/conversation"
	"github.com/go-go-golems/branchchat/pkg/settings"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	KeySelectedConversation = "selectedConversation"
	KeyConversationHistory  = "conversationHistory"
)

var ErrUnknownStoreType = errors.New("unknown store type")

// Store reads and writes conversation snapshots. Save keeps the conversation
// currently being worked on, SaveAll the full history list.
type Store struct {
	kv    KV
	codec Codec
}

func NewStore(kv KV, codec Codec) *Store {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Store{kv: kv, codec: codec}
}

// Open builds the store described by the settings.
func Open(s *settings.StoreSettings) (*Store, error) {
	codec, err := NewCodec(s.Codec)
	if err != nil {
		return nil, err
	}

	var kv KV
	switch s.Type {
	case "memory":
		kv = NewMemoryKV()
	case "file", "":
		dir, err := s.ExpandedPath()
		if err != nil {
			return nil, err
		}
		kv, err = NewFileKV(dir)
		if err != nil {
			return nil, err
		}
	case "sqlite":
		dir, err := s.ExpandedPath()
		if err != nil {
			return nil, err
		}
		path := dir
		if filepath.Ext(path) == "" {
			path = filepath.Join(dir, "branchchat.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrapf(err, "could not create %s", filepath.Dir(path))
		}
		dsn, err := SQLiteDSNForFile(path)
		if err != nil {
			return nil, err
		}
		kv, err = NewSQLiteKV(dsn)
		if err != nil {
			return nil, err
		}
	case "redis":
		kv = NewRedisKV(redis.NewClient(&redis.Options{Addr: s.RedisAddr}), s.RedisPrefix)
	default:
		return nil, errors.Wrapf(ErrUnknownStoreType, "%q", s.Type)
	}

	log.Debug().Str("type", s.Type).Str("codec", codec.Name()).Msg("opened conversation store")
	return NewStore(kv, codec), nil
}

func (s *Store) Close() error {
	return s.kv.Close()
}

func (s *Store) Save(ctx context.Context, conv *conversation.Conversation) error {
	b, err := s.codec.Marshal(conv.ToRecord())
	if err != nil {
		return errors.Wrapf(err, "could not encode conversation %s", conv.ID)
	}
	return s.kv.Set(ctx, KeySelectedConversation, b)
}

func (s *Store) SaveAll(ctx context.Context, convs []*conversation.Conversation) error {
	records := make([]*conversation.ConversationRecord, 0, len(convs))
	for _, c := range convs {
		records = append(records, c.ToRecord())
	}
	b, err := s.codec.Marshal(records)
	if err != nil {
		return errors.Wrap(err, "could not encode conversation history")
	}
	return s.kv.Set(ctx, KeyConversationHistory, b)
}

// LoadSelected returns the last saved conversation, or ErrNotFound.
func (s *Store) LoadSelected(ctx context.Context) (*conversation.Conversation, error) {
	b, err := s.kv.Get(ctx, KeySelectedConversation)
	if err != nil {
		return nil, err
	}
	var r conversation.ConversationRecord
	if err := s.codec.Unmarshal(b, &r); err != nil {
		return nil, errors.Wrap(err, "could not decode selected conversation")
	}
	return conversation.FromRecord(&r)
}

// LoadAll returns the saved history. A missing history is empty.
func (s *Store) LoadAll(ctx context.Context) ([]*conversation.Conversation, error) {
	b, err := s.kv.Get(ctx, KeyConversationHistory)
	if errors.Is(err, ErrNotFound) {
		return []*conversation.Conversation{}, nil
	}
	if err != nil {
		return nil, err
	}

	var records []*conversation.ConversationRecord
	if err := s.codec.Unmarshal(b, &records); err != nil {
		return nil, errors.Wrap(err, "could not decode conversation history")
	}
	ret := make([]*conversation.Conversation, 0, len(records))
	for _, r := range records {
		c, err := conversation.FromRecord(r)
		if err != nil {
			return nil, err
		}
		ret = append(ret, c)
	}
	return ret, nil
}

// Find returns the conversation with the given id from the history.
func (s *Store) Find(ctx context.Context, id string) (*conversation.Conversation, error) {
	all, err := s.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range all {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "conversation %s", id)
}

// Upsert replaces the conversation with the same id in convs, or appends it.
func Upsert(convs []*conversation.Conversation, conv *conversation.Conversation) []*conversation.Conversation {
	for i, c := range convs {
		if c.ID == conv.ID {
			convs[i] = conv
			return convs
		}
	}
	return append(convs, conv)
}
