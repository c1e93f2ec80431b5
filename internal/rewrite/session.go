package rewrite

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aihub/knowledge-retrieval/internal/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Turn is one prior query in a conversation's rewrite history.
type Turn struct {
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// SessionStore is the bounded per-conversation history the query
// rewriter resolves pronouns against (§4.3, "K <= 10 turns").
type SessionStore interface {
	Append(ctx context.Context, conversationID string, turn Turn) error
	History(ctx context.Context, conversationID string) ([]Turn, error)
}

// RedisSessionStore keeps a capped Redis list per conversation, the same
// shape RedisChunkStore uses for its document-chunk index: a list key
// with a sliding TTL, trimmed on every write.
type RedisSessionStore struct {
	client   *redis.Client
	maxTurns int
	ttl      time.Duration
}

// NewRedisSessionStore wraps client. maxTurns <= 0 defaults to 10.
func NewRedisSessionStore(client *redis.Client, maxTurns int, ttl time.Duration) *RedisSessionStore {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisSessionStore{client: client, maxTurns: maxTurns, ttl: ttl}
}

func (s *RedisSessionStore) key(conversationID string) string {
	return fmt.Sprintf("rewrite:session:%s", conversationID)
}

func (s *RedisSessionStore) Append(ctx context.Context, conversationID string, turn Turn) error {
	key := s.key(conversationID)
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	if err := s.client.RPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("push turn: %w", err)
	}
	if err := s.client.LTrim(ctx, key, int64(-s.maxTurns), -1).Err(); err != nil {
		logger.Warn("failed to trim rewrite session history", zap.String("conversation_id", conversationID), zap.Error(err))
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		logger.Warn("failed to set TTL on rewrite session history", zap.String("conversation_id", conversationID), zap.Error(err))
	}
	return nil
}

func (s *RedisSessionStore) History(ctx context.Context, conversationID string) ([]Turn, error) {
	raw, err := s.client.LRange(ctx, s.key(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// InMemorySessionStore is an in-process SessionStore without cross-process
// persistence. The registry does not use it: it always builds a
// RedisSessionStore and fails if Redis cannot be initialized.
type InMemorySessionStore struct {
	mu       sync.Mutex
	data     map[string][]Turn
	maxTurns int
}

func NewInMemorySessionStore(maxTurns int) *InMemorySessionStore {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &InMemorySessionStore{data: make(map[string][]Turn), maxTurns: maxTurns}
}

func (s *InMemorySessionStore) Append(ctx context.Context, conversationID string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := append(s.data[conversationID], turn)
	if len(turns) > s.maxTurns {
		turns = turns[len(turns)-s.maxTurns:]
	}
	s.data[conversationID] = turns
	return nil
}

func (s *InMemorySessionStore) History(ctx context.Context, conversationID string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.data[conversationID]))
	copy(out, s.data[conversationID])
	return out, nil
}
