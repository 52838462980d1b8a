// Package redis provides a Redis-backed session registry. Unlike the
// in-process table this one survives restarts, is shared across processes,
// and expires sessions with a TTL, so both behaviors the memory store lacks
// (persistence and horizontal scaling) come from here.
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/homeroomhq/identity"
)

// DefaultSessionTTL applies when SessionStore.TTL is unset.
const DefaultSessionTTL = 7 * 24 * time.Hour

const (
	tokenKeyPrefix = "homeroom:session:"
	userKeyPrefix  = "homeroom:usersessions:"
)

// SessionStore implements identity.SessionStore on Redis. Each token maps to
// its user id under a TTL; a per-user set tracks the user's live tokens so
// revoke-all works without scanning the keyspace.
type SessionStore struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{Client: client, TTL: DefaultSessionTTL}
}

func (s *SessionStore) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultSessionTTL
}

func (s *SessionStore) Create(ctx context.Context, userID string) (string, error) {
	token, err := identity.GenerateSecureToken()
	if err != nil {
		return "", err
	}

	ttl := s.ttl()
	pipe := s.Client.TxPipeline()
	pipe.Set(ctx, tokenKeyPrefix+token, userID, ttl)
	pipe.SAdd(ctx, userKeyPrefix+userID, token)
	// The set must outlive its longest-lived member.
	pipe.Expire(ctx, userKeyPrefix+userID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return token, nil
}

func (s *SessionStore) Get(ctx context.Context, token string) (string, error) {
	userID, err := s.Client.Get(ctx, tokenKeyPrefix+token).Result()
	if err == redis.Nil {
		return "", identity.ErrSessionNotFound
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *SessionStore) Delete(ctx context.Context, token string) error {
	userID, err := s.Client.Get(ctx, tokenKeyPrefix+token).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.Client.TxPipeline()
	pipe.Del(ctx, tokenKeyPrefix+token)
	pipe.SRem(ctx, userKeyPrefix+userID, token)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *SessionStore) DeleteUserSessions(ctx context.Context, userID string) error {
	tokens, err := s.Client.SMembers(ctx, userKeyPrefix+userID).Result()
	if err != nil && err != redis.Nil {
		return err
	}

	pipe := s.Client.TxPipeline()
	for _, token := range tokens {
		pipe.Del(ctx, tokenKeyPrefix+token)
	}
	pipe.Del(ctx, userKeyPrefix+userID)
	_, err = pipe.Exec(ctx)
	return err
}
