package server_test

import (
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/afero"

	"github.com/torlando-tech/reticulum-core/internal/fsabs"
	"github.com/torlando-tech/reticulum-core/internal/lxmf"
	"github.com/torlando-tech/reticulum-core/internal/server"
	"github.com/torlando-tech/reticulum-core/internal/transport"
)

// -------------------------------------------------------------------------
// Test Helpers
// -------------------------------------------------------------------------

// setupTestServer creates a real HTTP server backed by a Transport and an
// LXMF Store and returns the server's base URL. The server and its
// dependencies are cleaned up when the test finishes.
func setupTestServer(t *testing.T, store *lxmf.Store) string {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	tr := transport.NewTransport(logger)

	path, handler := server.New(tr, nil, store, logger)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv.URL
}

func newTestStore(t *testing.T) *lxmf.Store {
	t.Helper()
	fs := fsabs.New(afero.NewMemMapFs(), "/")
	store, err := lxmf.NewStore(fs, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
	return resp
}

// -------------------------------------------------------------------------
// TestHandlePaths
// -------------------------------------------------------------------------

func TestHandlePathsEmpty(t *testing.T) {
	t.Parallel()

	base := setupTestServer(t, newTestStore(t))

	var paths []map[string]any
	resp := getJSON(t, base+"/admin/v1/paths", &paths)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(paths) != 0 {
		t.Fatalf("paths = %v, want empty", paths)
	}
}

// -------------------------------------------------------------------------
// TestHandlePeers
// -------------------------------------------------------------------------

func TestHandlePeersNoAutoInterface(t *testing.T) {
	t.Parallel()

	base := setupTestServer(t, newTestStore(t))

	var peers []map[string]any
	resp := getJSON(t, base+"/admin/v1/peers", &peers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(peers) != 0 {
		t.Fatalf("peers = %v, want empty when AutoInterface is nil", peers)
	}
}

// -------------------------------------------------------------------------
// TestHandleConversations
// -------------------------------------------------------------------------

func TestHandleConversations(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	us := [lxmf.HashSize]byte{0x11, 0x22}
	peer := [lxmf.HashSize]byte{0xaa, 0xbb}
	m := lxmf.NewMessage(us, peer, true, 100.0, "hello")
	if err := store.SaveMessage(m); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	base := setupTestServer(t, store)

	var conversations []struct {
		PeerHash     string  `json:"peer_hash"`
		MessageCount int     `json:"message_count"`
		LastActivity float64 `json:"last_activity"`
	}
	resp := getJSON(t, base+"/admin/v1/conversations", &conversations)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(conversations) != 1 {
		t.Fatalf("len(conversations) = %d, want 1", len(conversations))
	}
	if conversations[0].PeerHash != hex.EncodeToString(peer[:]) {
		t.Errorf("PeerHash = %q, want %q", conversations[0].PeerHash, hex.EncodeToString(peer[:]))
	}
	if conversations[0].MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", conversations[0].MessageCount)
	}
}

// -------------------------------------------------------------------------
// TestHandleConversationMessages
// -------------------------------------------------------------------------

func TestHandleConversationMessages(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	us := [lxmf.HashSize]byte{0x11, 0x22}
	peer := [lxmf.HashSize]byte{0xaa, 0xbb}
	m := lxmf.NewMessage(us, peer, true, 100.0, "hello there")
	if err := store.SaveMessage(m); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	base := setupTestServer(t, store)

	var messages []struct {
		Hash    string `json:"hash"`
		Content string `json:"content"`
		State   string `json:"state"`
	}
	url := base + "/admin/v1/conversations/" + hex.EncodeToString(peer[:]) + "/messages"
	resp := getJSON(t, url, &messages)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(messages) != 1 {
		t.Fatalf("len(messages) = %d, want 1", len(messages))
	}
	if messages[0].Content != "hello there" {
		t.Errorf("Content = %q, want %q", messages[0].Content, "hello there")
	}
}

func TestHandleConversationMessagesInvalidHash(t *testing.T) {
	t.Parallel()

	base := setupTestServer(t, newTestStore(t))

	resp, err := http.Get(base + "/admin/v1/conversations/not-hex/messages")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleConversationMessagesNotFound(t *testing.T) {
	t.Parallel()

	base := setupTestServer(t, newTestStore(t))

	unknown := hex.EncodeToString(make([]byte, lxmf.HashSize))
	resp, err := http.Get(base + "/admin/v1/conversations/" + unknown + "/messages")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
