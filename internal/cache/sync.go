package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/chatstream/internal/logging"
	"github.com/opencode-ai/chatstream/pkg/types"
)

// EnvelopeVersion is the current on-disk format.
const EnvelopeVersion = 1

type envelope struct {
	Version  int             `json:"version"`
	Key      string          `json:"key"`
	SavedAt  time.Time       `json:"savedAt"`
	Messages []types.Message `json:"messages"`
}

// Synchronizer mirrors a message list into a Slot.
type Synchronizer struct {
	slot Slot
	key  string
	now  func() time.Time
	log  zerolog.Logger
}

// NewSynchronizer creates a synchronizer writing envelopes tagged with key.
func NewSynchronizer(slot Slot, key string) *Synchronizer {
	if key == "" {
		key = DefaultKey
	}
	return &Synchronizer{
		slot: slot,
		key:  key,
		now:  time.Now,
		log:  logging.Component("cache").With().Str("key", key).Logger(),
	}
}

// Load returns the cached messages. A missing, unreadable or corrupt slot
// yields an empty list. Messages saved mid-stream come back finalized.
func (s *Synchronizer) Load(ctx context.Context) []types.Message {
	data, err := s.slot.Read(ctx)
	if err != nil {
		if !errors.Is(err, ErrEmpty) {
			s.log.Warn().Err(err).Msg("cache read failed")
		}
		return []types.Message{}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Warn().Err(err).Int("bytes", len(data)).Msg("discarding corrupt cache payload")
		return []types.Message{}
	}
	if env.Version != EnvelopeVersion {
		s.log.Warn().Int("version", env.Version).Msg("discarding cache payload with unknown version")
		return []types.Message{}
	}
	if env.Key != s.key {
		s.log.Warn().Str("found", env.Key).Msg("discarding cache payload for another key")
		return []types.Message{}
	}

	msgs := env.Messages
	if msgs == nil {
		msgs = []types.Message{}
	}
	for i := range msgs {
		msgs[i].IsStreaming = false
	}
	s.log.Debug().Int("messages", len(msgs)).Msg("cache loaded")
	return msgs
}

// Save overwrites the slot with msgs. Failures are logged only.
func (s *Synchronizer) Save(ctx context.Context, msgs []types.Message) {
	if msgs == nil {
		msgs = []types.Message{}
	}
	data, err := json.Marshal(envelope{
		Version:  EnvelopeVersion,
		Key:      s.key,
		SavedAt:  s.now().UTC(),
		Messages: msgs,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("cache encode failed")
		return
	}
	if err := s.slot.Write(ctx, data); err != nil {
		s.log.Warn().Err(err).Msg("cache write failed")
	}
}

// Clear empties the slot. Failures are logged only.
func (s *Synchronizer) Clear(ctx context.Context) {
	if err := s.slot.Remove(ctx); err != nil {
		s.log.Warn().Err(err).Msg("cache clear failed")
	}
}
