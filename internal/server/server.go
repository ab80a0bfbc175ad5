// Package server implements the admin HTTP API for reticulum-core.
package server

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/torlando-tech/reticulum-core/internal/autoiface"
	"github.com/torlando-tech/reticulum-core/internal/lxmf"
	"github.com/torlando-tech/reticulum-core/internal/transport"
)

// Sentinel errors for the server package.
var (
	// ErrMissingDestinationHash indicates a request path is missing the
	// destination hash segment.
	ErrMissingDestinationHash = errors.New("destination hash must be provided")

	// ErrInvalidDestinationHash indicates the destination hash segment is
	// not valid hex or not 16 bytes.
	ErrInvalidDestinationHash = errors.New("destination hash must be 32 hex characters")

	// ErrConversationNotFound indicates no conversation exists for the
	// given destination hash.
	ErrConversationNotFound = errors.New("conversation not found")
)

// AdminServer exposes a JSON-over-HTTP admin API over the live Transport
// path table, AutoInterface discovery state, and LXMF message store.
//
// Each handler delegates to the underlying domain type; AdminServer is a
// thin adapter between HTTP and internal state, mirroring gobfd's
// adapter-over-manager BFDServer shape.
type AdminServer struct {
	transport *transport.Transport
	autoiface *autoiface.AutoInterface // nil when AutoInterface discovery is not in use
	store     *lxmf.Store
	logger    *slog.Logger
}

// New creates an AdminServer and returns the mount prefix and HTTP handler,
// wrapped with logging and panic recovery middleware.
func New(t *transport.Transport, ai *autoiface.AutoInterface, store *lxmf.Store, logger *slog.Logger) (string, http.Handler) {
	srv := &AdminServer{
		transport: t,
		autoiface: ai,
		store:     store,
		logger:    logger.With(slog.String("component", "server")),
	}

	const prefix = "/admin/v1/"

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+prefix+"paths", srv.handlePaths)
	mux.HandleFunc("GET "+prefix+"peers", srv.handlePeers)
	mux.HandleFunc("GET "+prefix+"conversations", srv.handleConversations)
	mux.HandleFunc("GET "+prefix+"conversations/{hash}/messages", srv.handleConversationMessages)

	var handler http.Handler = mux
	handler = RecoveryMiddleware(logger)(handler)
	handler = LoggingMiddleware(logger)(handler)

	return prefix, handler
}

// -------------------------------------------------------------------------
// Wire types
// -------------------------------------------------------------------------

// pathEntryView is the JSON projection of a transport.PathEntry.
type pathEntryView struct {
	DestinationHash string `json:"destination_hash"`
	NextHop         string `json:"next_hop_interface"`
	Hops            uint8  `json:"hops"`
}

// peerView is the JSON projection of an autoiface.Peer.
type peerView struct {
	Addr          string `json:"addr"`
	DataPort      uint16 `json:"data_port"`
	LastHeardUnix int64  `json:"last_heard_unix"`
	IsLocalEcho   bool   `json:"is_local_echo"`
}

// conversationView is the JSON projection of an lxmf.ConversationInfo.
type conversationView struct {
	PeerHash     string  `json:"peer_hash"`
	MessageCount int     `json:"message_count"`
	UnreadCount  int     `json:"unread_count"`
	LastActivity float64 `json:"last_activity"`
}

// messageView is the JSON projection of an lxmf.MessageMetadata.
type messageView struct {
	Hash      string  `json:"hash"`
	Content   string  `json:"content"`
	Incoming  bool    `json:"incoming"`
	Timestamp float64 `json:"timestamp"`
	State     string  `json:"state"`
}

// -------------------------------------------------------------------------
// Handlers
// -------------------------------------------------------------------------

func (s *AdminServer) handlePaths(w http.ResponseWriter, _ *http.Request) {
	entries := s.transport.Paths()
	views := make([]pathEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, pathEntryView{
			DestinationHash: hex.EncodeToString(e.DestinationHash[:]),
			NextHop:         e.NextHopInterface,
			Hops:            e.Hops,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *AdminServer) handlePeers(w http.ResponseWriter, _ *http.Request) {
	if s.autoiface == nil {
		writeJSON(w, http.StatusOK, []peerView{})
		return
	}

	peers := s.autoiface.Peers()
	views := make([]peerView, 0, len(peers))
	for _, p := range peers {
		views = append(views, peerView{
			Addr:          p.Addr.String(),
			DataPort:      p.DataPort,
			LastHeardUnix: p.LastHeard.Unix(),
			IsLocalEcho:   p.IsLocalEcho,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *AdminServer) handleConversations(w http.ResponseWriter, _ *http.Request) {
	peerHashes := s.store.GetConversations()
	views := make([]conversationView, 0, len(peerHashes))
	for _, peerHash := range peerHashes {
		info, err := s.store.GetConversationInfo(peerHash)
		if err != nil {
			s.logger.Warn("skipping conversation missing from index",
				slog.String("peer_hash", hex.EncodeToString(peerHash[:])),
				slog.String("error", err.Error()))
			continue
		}
		views = append(views, conversationView{
			PeerHash:     hex.EncodeToString(info.PeerHash[:]),
			MessageCount: len(info.MessageHashes),
			UnreadCount:  info.UnreadCount,
			LastActivity: info.LastActivity,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *AdminServer) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	hashHex := strings.TrimSpace(r.PathValue("hash"))
	if hashHex == "" {
		writeError(w, s.logger, http.StatusBadRequest, ErrMissingDestinationHash)
		return
	}

	raw, err := hex.DecodeString(hashHex)
	if err != nil || len(raw) != lxmf.HashSize {
		writeError(w, s.logger, http.StatusBadRequest, ErrInvalidDestinationHash)
		return
	}
	var peerHash [lxmf.HashSize]byte
	copy(peerHash[:], raw)

	messageHashes, err := s.store.GetMessagesForConversation(peerHash)
	if err != nil {
		writeError(w, s.logger, http.StatusNotFound, fmt.Errorf("%w: %w", ErrConversationNotFound, err))
		return
	}

	views := make([]messageView, 0, len(messageHashes))
	for _, hash := range messageHashes {
		meta, err := s.store.LoadMessageMetadata(hash)
		if err != nil {
			s.logger.Warn("skipping message missing from store",
				slog.String("hash", hex.EncodeToString(hash[:])),
				slog.String("error", err.Error()))
			continue
		}
		views = append(views, messageView{
			Hash:      hex.EncodeToString(meta.Hash[:]),
			Content:   meta.Content,
			Incoming:  meta.Incoming,
			Timestamp: meta.Timestamp,
			State:     meta.State.String(),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// -------------------------------------------------------------------------
// Response helpers
// -------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, err error) {
	logger.Warn("admin request failed", slog.Int("status", status), slog.String("error", err.Error()))
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
