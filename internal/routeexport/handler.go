package routeexport

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net/netip"
	"time"

	"github.com/torlando-tech/reticulum-core/internal/transport"
)

const defaultReconcileInterval = 5 * time.Second

// HandlerConfig holds the configuration for a Handler.
type HandlerConfig struct {
	// Client is the GoBGP gRPC client.
	Client Client

	// Dampening configures path-flap dampening.
	Dampening DampeningConfig

	// ReconcileInterval controls how often the handler compares its
	// exported set against the live path table to catch withdrawals
	// the announce callback alone cannot observe (path expiry).
	ReconcileInterval time.Duration

	// Logger is the parent logger.
	Logger *slog.Logger
}

// Handler republishes Transport path-table entries into GoBGP. It
// subscribes to Transport's announce callback for advertisements and
// runs a periodic reconciliation sweep to catch withdrawals, since
// Transport has no "path lost" callback of its own — only expiry via
// its internal sweep.
type Handler struct {
	client            Client
	dampener          *Dampener
	reconcileInterval time.Duration
	logger            *slog.Logger

	exported map[[16]byte]uint8 // destination hash -> last exported hop count
}

// NewHandler creates a route-export handler.
func NewHandler(cfg HandlerConfig) *Handler {
	interval := cfg.ReconcileInterval
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		client:            cfg.Client,
		dampener:          NewDampener(cfg.Dampening, cfg.Logger),
		reconcileInterval: interval,
		logger:            logger.With(slog.String("component", "routeexport.handler")),
		exported:          make(map[[16]byte]uint8),
	}
}

// OnAnnounce is registered as a transport.AnnounceCallback. Every
// accepted or refreshed path table entry is (re-)exported, subject to
// dampening.
func (h *Handler) OnAnnounce(destinationHash [16]byte, entry transport.PathEntry, _ []byte) {
	key := hex.EncodeToString(destinationHash[:])

	if h.dampener.ShouldSuppressAdvertise(key) {
		h.logger.Debug("advertise suppressed by flap dampening", slog.String("destination", key))
		return
	}

	prefix := destinationPrefix(destinationHash)
	if err := h.client.AdvertisePath(context.Background(), prefix, uint32(entry.Hops)); err != nil {
		h.logger.Error("failed to advertise mesh route",
			slog.String("destination", key),
			slog.String("error", err.Error()))
		return
	}
	h.exported[destinationHash] = entry.Hops
}

// Reconcile compares the handler's exported set against the live path
// table in transport, withdrawing routes for destinations that are no
// longer reachable.
func (h *Handler) Reconcile(t *transport.Transport) {
	live := make(map[[16]byte]struct{})
	for _, entry := range t.Paths() {
		live[entry.DestinationHash] = struct{}{}
	}

	for destinationHash := range h.exported {
		if _, ok := live[destinationHash]; ok {
			continue
		}
		key := hex.EncodeToString(destinationHash[:])
		if h.dampener.ShouldSuppressWithdraw(key) {
			h.logger.Debug("withdraw suppressed by flap dampening", slog.String("destination", key))
			continue
		}
		prefix := destinationPrefix(destinationHash)
		if err := h.client.WithdrawPath(context.Background(), prefix); err != nil {
			h.logger.Error("failed to withdraw mesh route",
				slog.String("destination", key),
				slog.String("error", err.Error()))
			continue
		}
		delete(h.exported, destinationHash)
	}
}

// Run drives periodic reconciliation until ctx is cancelled.
func (h *Handler) Run(ctx context.Context, t *transport.Transport) error {
	h.logger.Info("route export handler started")
	ticker := time.NewTicker(h.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("route export handler stopped")
			return nil
		case <-ticker.C:
			h.Reconcile(t)
		}
	}
}

// destinationPrefix maps a 16-byte destination hash directly onto an
// IPv6 /128: the hash is exactly the width of an IPv6 address, so no
// further encoding is needed to produce a routable-looking prefix.
func destinationPrefix(destinationHash [16]byte) netip.Prefix {
	addr := netip.AddrFrom16(destinationHash)
	return netip.PrefixFrom(addr, 128)
}
