package ui

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tunnel-agent/controlplane/internal/infra"
	"tunnel-agent/controlplane/internal/repository"
	"tunnel-agent/controlplane/internal/service"
)

func newTestHandler(t *testing.T) (*Handler, *repository.GormRepository) {
	t.Helper()
	db, err := infra.OpenDB(filepath.Join(t.TempDir(), "cp.db"))
	if err != nil {
		t.Fatal(err)
	}
	repo := repository.NewGormRepository(db)
	h, err := NewHandler(repo)
	if err != nil {
		t.Fatal(err)
	}
	return h, repo
}

func TestClientsPage(t *testing.T) {
	h, repo := newTestHandler(t)
	ctx := t.Context()
	if err := repo.SeedLeases(ctx, []string{"abcd1234efgh"}); err != nil {
		t.Fatal(err)
	}
	c, err := service.Register(ctx, repo, "workstation")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if err := service.RecordHeartbeat(ctx, repo, c.ID, service.Heartbeat{
		ServerRunning: true,
		Tunnels:       map[string]string{"primary": "tcp://1.tcp.ngrok.io:4000"},
	}, now); err != nil {
		t.Fatal(err)
	}
	h.now = func() time.Time { return now.Add(5 * time.Second) }

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/clients", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"workstation", `class="online">online`, "tcp://1.tcp.ngrok.io:4000", "1 of 1 free", "abcd…efgh"} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if strings.Contains(body, "abcd1234efgh") {
		t.Error("page shows full lease key")
	}
}

func TestEnqueueCommand(t *testing.T) {
	h, repo := newTestHandler(t)
	c, err := service.Register(t.Context(), repo, "box")
	if err != nil {
		t.Fatal(err)
	}

	post := func(id, command string) int {
		form := url.Values{"command": {command}}
		req := httptest.NewRequest(http.MethodPost, "/clients/"+id+"/commands", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		h.Routes().ServeHTTP(rec, req)
		return rec.Code
	}

	if code := post(c.ID, "start_server"); code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", code)
	}
	if code := post(c.ID, "reboot"); code != http.StatusBadRequest {
		t.Errorf("unknown command status = %d, want 400", code)
	}
	if code := post("5b8f2f6e-8f0e-4a55-9a55-5f3a9d6b1c11", "stop_server"); code != http.StatusNotFound {
		t.Errorf("unknown client status = %d, want 404", code)
	}

	cmds, err := repo.TakeCommands(t.Context(), c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 1 || cmds[0].Kind != "start_server" {
		t.Errorf("queued = %+v", cmds)
	}
}

func TestDeleteClientFreesLease(t *testing.T) {
	h, repo := newTestHandler(t)
	ctx := t.Context()
	if err := repo.SeedLeases(ctx, []string{"k1"}); err != nil {
		t.Fatal(err)
	}
	c, err := service.Register(ctx, repo, "gone")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := service.RequestLease(ctx, repo, c.ID, false, time.Now()); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/clients/"+c.ID+"/delete", nil))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rec.Code)
	}
	leases, err := repo.ListLeases(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(leases) != 1 || !leases[0].Free() {
		t.Errorf("leases = %+v", leases)
	}
}
