package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dialog states for the login conversation.
const (
	StateNone            = ""
	StateWaitingEmail    = "waiting_email"
	StateWaitingPassword = "waiting_password"
)

// Session is the conversational state for one messenger chat. It lives in
// Redis so an authorized chat survives bot restarts.
type Session struct {
	ChatID       int64  `json:"chat_id"`
	State        string `json:"state"`
	PendingEmail string `json:"pending_email,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	Role         string `json:"role,omitempty"`
	Email        string `json:"email,omitempty"`
	FullName     string `json:"full_name,omitempty"`
}

// Authorized reports whether the chat has completed login.
func (s *Session) Authorized() bool {
	return s != nil && s.UserID != ""
}

// SessionStore persists chat sessions in Redis.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionStore{client: client, ttl: ttl}
}

func sessionKey(chatID int64) string {
	return fmt.Sprintf("bot:session:%d", chatID)
}

// Get loads the session for a chat; a missing session returns an empty one.
func (s *SessionStore) Get(ctx context.Context, chatID int64) (*Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(chatID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &Session{ChatID: chatID}, nil
		}
		return nil, fmt.Errorf("get bot session: %w", err)
	}
	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("decode bot session: %w", err)
	}
	return &session, nil
}

// Save stores the session, refreshing its TTL.
func (s *SessionStore) Save(ctx context.Context, session *Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode bot session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(session.ChatID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save bot session: %w", err)
	}
	return nil
}

// Delete drops the session for a chat.
func (s *SessionStore) Delete(ctx context.Context, chatID int64) error {
	if err := s.client.Del(ctx, sessionKey(chatID)).Err(); err != nil {
		return fmt.Errorf("delete bot session: %w", err)
	}
	return nil
}
