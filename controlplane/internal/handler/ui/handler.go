package ui

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"tunnel-agent/controlplane/internal/model"
	"tunnel-agent/controlplane/internal/repository"
	"tunnel-agent/controlplane/internal/service"
)

//go:embed templates/*.html
var templatesFS embed.FS

var validate = validator.New()

// OnlineWindow is how recent a heartbeat must be for a client to show as
// online.
const OnlineWindow = 30 * time.Second

type Handler struct {
	repo      repository.Repository
	templates *template.Template
	now       func() time.Time
}

func NewHandler(repo repository.Repository) (*Handler, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"tunnels": service.Tunnels,
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Handler{repo: repo, templates: tmpl, now: time.Now}, nil
}

type enqueueCommandRequest struct {
	ClientID string `validate:"required,uuid"`
	Command  string `validate:"required,oneof=start_server stop_server"`
}

type clientRow struct {
	model.Client
	Online  bool
	Pending int
}

type clientsPage struct {
	Clients    []clientRow
	Leases     []model.Lease
	FreeLeases int
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/clients", http.StatusFound)
	})
	r.Get("/clients", h.clients)
	r.Post("/clients/{id}/commands", h.enqueueCommand)
	r.Post("/clients/{id}/delete", h.deleteClient)
	return r
}

func (h *Handler) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, name, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func handleForm[T any](w http.ResponseWriter, r *http.Request, req T, action func() error, redirect string) {
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := action(); err != nil {
		status := http.StatusBadRequest
		if service.IsNotFound(err) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	http.Redirect(w, r, redirect, http.StatusSeeOther)
}

func (h *Handler) clients(w http.ResponseWriter, r *http.Request) {
	data, err := h.repo.FetchClientsPageData(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	now := h.now()
	page := clientsPage{Leases: data.Leases}
	for _, c := range data.Clients {
		page.Clients = append(page.Clients, clientRow{
			Client:  c,
			Online:  c.Online(now, OnlineWindow),
			Pending: data.Pending[c.ID],
		})
	}
	for _, l := range data.Leases {
		if l.Free() {
			page.FreeLeases++
		}
	}
	h.render(w, "clients.html", page)
}

func (h *Handler) enqueueCommand(w http.ResponseWriter, r *http.Request) {
	req := enqueueCommandRequest{
		ClientID: chi.URLParam(r, "id"),
		Command:  r.FormValue("command"),
	}
	handleForm(w, r, req, func() error {
		_, err := service.EnqueueCommand(r.Context(), h.repo, req.ClientID, req.Command)
		return err
	}, "/clients")
}

func (h *Handler) deleteClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.repo.DeleteClient(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/clients", http.StatusSeeOther)
}
