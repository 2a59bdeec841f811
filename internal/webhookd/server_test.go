package webhookd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/calbridge/calbridge/internal/engine"
	"github.com/calbridge/calbridge/internal/provider"
	"github.com/calbridge/calbridge/internal/store"
)

type stubProvider struct {
	provider.CalendarProvider
}

func (stubProvider) ID() string { return provider.ProviderGoogle }

type stubCreds struct{}

func (stubCreds) HasValidAuth(ctx context.Context, accountID string) bool { return true }
func (stubCreds) GetValidAccessToken(ctx context.Context, accountID string) (string, error) {
	return "token", nil
}
func (stubCreds) HTTPClient(ctx context.Context, accountID string) (*http.Client, error) {
	return http.DefaultClient, nil
}

// startTestServer runs a webhook server on an ephemeral port backed by
// a real engine over a temp database.
func startTestServer(t *testing.T) *Server {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	eng := engine.New(st, stubProvider{}, stubCreds{}, &engine.Config{CalendarName: "Calbridge Tasks"})
	srv := NewServer(eng, &Config{Port: 0})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

// TestServer_UnknownChannelReturns200 verifies notifications for
// channels nobody remembers are acknowledged, never errored, so the
// remote service does not retry them forever.
func TestServer_UnknownChannelReturns200(t *testing.T) {
	srv := startTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/webhook/google", srv.Addr()), nil)
	req.Header.Set("X-Goog-Channel-ID", "ghost-channel")
	req.Header.Set("X-Goog-Resource-ID", "res-1")
	req.Header.Set("X-Goog-Resource-State", "exists")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

// TestServer_SyncHandshakeReturns200 verifies the channel-creation
// handshake is acknowledged.
func TestServer_SyncHandshakeReturns200(t *testing.T) {
	srv := startTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/webhook/google", srv.Addr()), nil)
	req.Header.Set("X-Goog-Channel-ID", "chan-1")
	req.Header.Set("X-Goog-Resource-State", "sync")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

// TestServer_MissingChannelHeader verifies a malformed notification is
// still acknowledged and dropped.
func TestServer_MissingChannelHeader(t *testing.T) {
	srv := startTestServer(t)

	resp, err := http.Post(fmt.Sprintf("http://%s/webhook/google", srv.Addr()), "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

// TestServer_RejectsNonPost verifies the notification endpoint only
// accepts POST.
func TestServer_RejectsNonPost(t *testing.T) {
	srv := startTestServer(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/webhook/google", srv.Addr()))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

// TestServer_Health verifies the health endpoint answers with a status
// payload.
func TestServer_Health(t *testing.T) {
	srv := startTestServer(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/health", srv.Addr()))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding health body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("health status = %q, want ok", body.Status)
	}
}
