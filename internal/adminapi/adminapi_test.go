package adminapi_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spad-project/gospad/internal/adminapi"
)

type fakeProvider struct {
	stanzaCount int
	replaySize  int
	replayErr   error
	grants      int
}

func (f fakeProvider) StanzaCount() int { return f.stanzaCount }
func (f fakeProvider) ReplayStoreSize() (int, error) {
	return f.replaySize, f.replayErr
}
func (f fakeProvider) ActiveGrants() int { return f.grants }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServer_Status(t *testing.T) {
	t.Parallel()

	provider := fakeProvider{stanzaCount: 3, replaySize: 42, grants: 1}
	srv := adminapi.NewServer(provider, "test-version", testLogger())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}

	var body adminapi.Status
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.StanzaCount != 3 || body.ReplayStoreSize != 42 || body.ActiveGrants != 1 {
		t.Errorf("body = %+v, want stanza=3 replay=42 grants=1", body)
	}
	if body.Version != "test-version" {
		t.Errorf("Version = %q, want test-version", body.Version)
	}
	if body.RunID == "" {
		t.Error("RunID should not be empty")
	}
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	srv := adminapi.NewServer(fakeProvider{}, "v", testLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
}
