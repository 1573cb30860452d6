package service

import (
	"context"
	"strings"

	"tunnel-agent/controlplane/internal/model"
	"tunnel-agent/controlplane/internal/repository"
)

// EnqueueCommand queues kind for the client. Kinds are not restricted
// here; agents ignore the ones they do not know.
func EnqueueCommand(ctx context.Context, repo repository.Repository, clientID, kind string) (model.Command, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return model.Command{}, ValidationError{Msg: "command is required"}
	}
	if _, err := repo.GetClient(ctx, clientID); err != nil {
		return model.Command{}, err
	}
	c := model.NewCommand(clientID, kind)
	if err := repo.EnqueueCommand(ctx, &c); err != nil {
		return model.Command{}, err
	}
	return c, nil
}

// DeliverCommands hands over and forgets the client's queued commands.
func DeliverCommands(ctx context.Context, repo repository.Repository, clientID string) ([]model.Command, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, ValidationError{Msg: "client_id is required"}
	}
	if _, err := repo.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	return repo.TakeCommands(ctx, clientID)
}
