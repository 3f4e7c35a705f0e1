// Package auth issues and verifies API keys for the HTTP read API.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"squadboard/internal/domain"
	"squadboard/internal/events"
	"squadboard/internal/repo"
)

// KeyPrefix marks plaintext keys so they are recognisable in configs.
const KeyPrefix = "sqk_"

// UnauthorizedError is returned for unknown or malformed credentials.
type UnauthorizedError struct {
	Reason string
}

func (e UnauthorizedError) Error() string {
	if e.Reason == "" {
		return "unauthorized"
	}
	return "unauthorized: " + e.Reason
}

// Service stores keys as SHA-256 digests; the plaintext is only returned
// once, by Issue.
type Service struct {
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Issue creates a key for actorID and returns its plaintext.
func (s Service) Issue(ctx context.Context, actorID, name string) (string, domain.APIKey, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return "", domain.APIKey{}, errors.New("actor_id required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, fmt.Errorf("generate key: %w", err)
	}
	plain := KeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: s.now().UTC().Format(time.RFC3339),
	}
	if err := s.Repo.InsertAPIKey(ctx, key); err != nil {
		return "", domain.APIKey{}, fmt.Errorf("store api key: %w", err)
	}
	if err := s.Events.Append(ctx, nil, events.TypeAPIKey, "", actorID, events.Payload{"key_id": key.ID, "name": key.Name}); err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, key, nil
}

// Authenticate resolves a plaintext key to its record.
func (s Service) Authenticate(ctx context.Context, plain string) (domain.APIKey, error) {
	plain = strings.TrimSpace(plain)
	if plain == "" {
		return domain.APIKey{}, UnauthorizedError{Reason: "api key required"}
	}
	key, err := s.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(plain))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.APIKey{}, UnauthorizedError{Reason: "unknown api key"}
	}
	if err != nil {
		return domain.APIKey{}, err
	}
	if key.ActorID == "" {
		return domain.APIKey{}, UnauthorizedError{Reason: "api key missing actor"}
	}
	return key, nil
}

func (s Service) Revoke(ctx context.Context, id string) error {
	return s.Repo.DeleteAPIKey(ctx, id)
}
