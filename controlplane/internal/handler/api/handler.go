package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"tunnel-agent/controlplane/internal/middleware"
	"tunnel-agent/controlplane/internal/repository"
	"tunnel-agent/controlplane/internal/service"
)

type Handler struct {
	repo       repository.Repository
	apiKeyHash string
	now        func() time.Time
}

// NewHandler serves the agent API. Every route requires the API key whose
// hash is apiKeyHash.
func NewHandler(repo repository.Repository, apiKeyHash string) *Handler {
	return &Handler{repo: repo, apiKeyHash: apiKeyHash, now: time.Now}
}

// --- Request/Response types ---

type RegisterInput struct {
	Body struct {
		DisplayName string `json:"displayName"`
	}
}

type RegisterOutput struct {
	Body struct {
		ClientID string `json:"clientId"`
	}
}

type ProcessStats struct {
	CPUPercent float64 `json:"cpuPercent"`
	MemoryMB   float64 `json:"memoryMb"`
}

type Status struct {
	ServerRunning      bool         `json:"serverRunning"`
	ClientActive       bool         `json:"clientActive"`
	SystemStats        ProcessStats `json:"systemStats"`
	ServerProcessStats ProcessStats `json:"serverProcessStats"`
}

type HeartbeatInput struct {
	Body struct {
		ClientID  string            `json:"clientId" minLength:"1"`
		Status    Status            `json:"status"`
		NgrokURLs map[string]string `json:"ngrokUrls,omitempty"`
	}
}

type StatusOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

type CommandsInput struct {
	ClientID string `query:"client_id" required:"true"`
}

type Command struct {
	ID      string `json:"id"`
	Command string `json:"command"`
}

type CommandsOutput struct {
	Body struct {
		Commands []Command `json:"commands"`
	}
}

type RequestLeaseInput struct {
	Body struct {
		ClientID     string `json:"clientId" minLength:"1"`
		HasCustomKey bool   `json:"hasCustomKey,omitempty"`
	}
}

type RequestLeaseOutput struct {
	Body struct {
		NgrokKey string `json:"ngrokKey"`
	}
}

type ReleaseLeaseInput struct {
	Body struct {
		ClientID string `json:"clientId" minLength:"1"`
		Key      string `json:"key" minLength:"1"`
	}
}

// --- Register routes ---

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKey(h.apiKeyHash))
		api := humachi.New(r, huma.DefaultConfig("Tunnel Control Plane API", "1.0.0"))
		huma.Register(api, huma.Operation{
			OperationID: "register",
			Method:      http.MethodPost,
			Path:        "/register",
			Summary:     "Register a new agent",
		}, h.register)
		huma.Register(api, huma.Operation{
			OperationID: "heartbeat",
			Method:      http.MethodPost,
			Path:        "/heartbeat",
			Summary:     "Report agent status and tunnel addresses",
		}, h.heartbeat)
		huma.Register(api, huma.Operation{
			OperationID: "list-commands",
			Method:      http.MethodGet,
			Path:        "/commands",
			Summary:     "Deliver queued commands",
		}, h.commands)
		huma.Register(api, huma.Operation{
			OperationID: "request-lease",
			Method:      http.MethodPost,
			Path:        "/request_ngrok_key",
			Summary:     "Lease a pooled ngrok key",
		}, h.requestLease)
		huma.Register(api, huma.Operation{
			OperationID: "release-lease",
			Method:      http.MethodPost,
			Path:        "/release_ngrok_key",
			Summary:     "Return a leased ngrok key",
		}, h.releaseLease)
	})
}

// --- Handlers ---

func (h *Handler) register(ctx context.Context, input *RegisterInput) (*RegisterOutput, error) {
	c, err := service.Register(ctx, h.repo, input.Body.DisplayName)
	if err != nil {
		return nil, toHumaError(err)
	}
	resp := &RegisterOutput{}
	resp.Body.ClientID = c.ID
	return resp, nil
}

func (h *Handler) heartbeat(ctx context.Context, input *HeartbeatInput) (*StatusOutput, error) {
	st := input.Body.Status
	err := service.RecordHeartbeat(ctx, h.repo, input.Body.ClientID, service.Heartbeat{
		ServerRunning: st.ServerRunning,
		ClientActive:  st.ClientActive,
		System:        service.Usage{CPUPercent: st.SystemStats.CPUPercent, MemoryMB: st.SystemStats.MemoryMB},
		Server:        service.Usage{CPUPercent: st.ServerProcessStats.CPUPercent, MemoryMB: st.ServerProcessStats.MemoryMB},
		Tunnels:       input.Body.NgrokURLs,
	}, h.now())
	if err != nil {
		return nil, toHumaError(err)
	}
	return ok(), nil
}

func (h *Handler) commands(ctx context.Context, input *CommandsInput) (*CommandsOutput, error) {
	cmds, err := service.DeliverCommands(ctx, h.repo, input.ClientID)
	if err != nil {
		return nil, toHumaError(err)
	}
	resp := &CommandsOutput{}
	resp.Body.Commands = make([]Command, 0, len(cmds))
	for _, c := range cmds {
		resp.Body.Commands = append(resp.Body.Commands, Command{ID: c.ID, Command: c.Kind})
	}
	return resp, nil
}

func (h *Handler) requestLease(ctx context.Context, input *RequestLeaseInput) (*RequestLeaseOutput, error) {
	key, err := service.RequestLease(ctx, h.repo, input.Body.ClientID, input.Body.HasCustomKey, h.now())
	if err != nil {
		return nil, toHumaError(err)
	}
	resp := &RequestLeaseOutput{}
	resp.Body.NgrokKey = key
	return resp, nil
}

func (h *Handler) releaseLease(ctx context.Context, input *ReleaseLeaseInput) (*StatusOutput, error) {
	if err := service.ReleaseLease(ctx, h.repo, input.Body.ClientID, input.Body.Key); err != nil {
		return nil, toHumaError(err)
	}
	return ok(), nil
}

func ok() *StatusOutput {
	resp := &StatusOutput{}
	resp.Body.Status = "ok"
	return resp
}

func toHumaError(err error) error {
	if service.IsValidation(err) {
		return huma.Error400BadRequest(err.Error())
	}
	if service.IsNotFound(err) {
		return huma.Error404NotFound("not found")
	}
	if service.IsUnavailable(err) {
		return huma.Error503ServiceUnavailable("no ngrok key available")
	}
	return huma.Error500InternalServerError(err.Error())
}
