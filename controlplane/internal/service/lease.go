package service

import (
	"context"
	"strings"
	"time"

	"tunnel-agent/controlplane/internal/repository"
)

// ParseLeaseKeys splits a comma or whitespace separated key list, dropping
// blanks and duplicates.
func ParseLeaseKeys(raw string) []string {
	seen := map[string]bool{}
	var out []string
	for _, k := range strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	}) {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// RequestLease returns a pooled key for the client. A client asking again
// gets the key it already holds.
func RequestLease(ctx context.Context, repo repository.Repository, clientID string, hasCustomKey bool, now time.Time) (string, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return "", ValidationError{Msg: "clientId is required"}
	}
	if hasCustomKey {
		return "", ValidationError{Msg: "client has its own key"}
	}
	var key string
	err := repo.WithTx(ctx, func(repo repository.Repository) error {
		if _, err := repo.GetClient(ctx, clientID); err != nil {
			return err
		}
		l, err := repo.AcquireLease(ctx, clientID, now.UTC())
		if err != nil {
			return err
		}
		key = l.Key
		return nil
	})
	return key, err
}

// ReleaseLease frees key. A key the client does not hold is
// repository.ErrNotFound.
func ReleaseLease(ctx context.Context, repo repository.Repository, clientID, key string) error {
	clientID = strings.TrimSpace(clientID)
	key = strings.TrimSpace(key)
	if clientID == "" || key == "" {
		return ValidationError{Msg: "clientId and key are required"}
	}
	released, err := repo.ReleaseLease(ctx, clientID, key)
	if err != nil {
		return err
	}
	if !released {
		return repository.ErrNotFound
	}
	return nil
}
