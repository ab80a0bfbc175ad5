// reticulumd is the mesh-networking daemon: AutoInterface discovery,
// Transport announce/path table, BLE fragment reassembly, and LXMF
// message persistence, wired together behind a JSON admin API.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"
	"time"

	"connectrpc.com/grpchealth"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/torlando-tech/reticulum-core/internal/autoiface"
	"github.com/torlando-tech/reticulum-core/internal/config"
	"github.com/torlando-tech/reticulum-core/internal/fragment"
	"github.com/torlando-tech/reticulum-core/internal/fsabs"
	"github.com/torlando-tech/reticulum-core/internal/identity"
	"github.com/torlando-tech/reticulum-core/internal/iface"
	"github.com/torlando-tech/reticulum-core/internal/lxmf"
	"github.com/torlando-tech/reticulum-core/internal/metrics"
	"github.com/torlando-tech/reticulum-core/internal/routeexport"
	"github.com/torlando-tech/reticulum-core/internal/segment"
	"github.com/torlando-tech/reticulum-core/internal/server"
	"github.com/torlando-tech/reticulum-core/internal/transport"
	appversion "github.com/torlando-tech/reticulum-core/internal/version"
	"github.com/torlando-tech/reticulum-core/internal/wire"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// flightRecorderMinAge is the minimum window age for the flight recorder.
const flightRecorderMinAge = 500 * time.Millisecond

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 2 * 1024 * 1024 // 2 MiB

// lxmfApp/lxmfAspect name the local LXMF delivery destination every
// inbound message targets.
const lxmfApp = "lxmf"
const lxmfAspect = "delivery"

// identityFile holds the node's persisted signing and encryption keys,
// relative to the storage base path.
const identityFile = "identity.key"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("reticulumd starting",
		slog.String("version", appversion.Version),
		slog.String("admin_addr", cfg.Admin.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.String("group_id", cfg.Reticulum.GroupID),
	)

	fr := startFlightRecorder(logger)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	if err := runDaemon(cfg, collector, reg, logger, fr); err != nil {
		logger.Error("reticulumd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("reticulumd stopped")
	return 0
}

// runDaemon wires the mesh components together and runs them under an
// errgroup with a signal-aware context, mirroring gobfd's runServers.
func runDaemon(
	cfg *config.Config,
	collector *metrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	fr *trace.FlightRecorder,
) error {
	if err := os.MkdirAll(cfg.Storage.BasePath, 0o750); err != nil {
		return fmt.Errorf("create storage base path %s: %w", cfg.Storage.BasePath, err)
	}
	rootFS := fsabs.New(afero.NewOsFs(), cfg.Storage.BasePath)

	id, err := loadOrCreateIdentity(rootFS, logger)
	if err != nil {
		return fmt.Errorf("load node identity: %w", err)
	}

	store, err := lxmf.NewStore(rootFS, logger,
		lxmf.WithMaxConversations(cfg.Reticulum.MaxConversations),
		lxmf.WithMaxMessagesPerConversation(cfg.Reticulum.MaxMessagesPerConversation),
	)
	if err != nil {
		return fmt.Errorf("open lxmf store: %w", err)
	}

	tr := transport.NewTransport(logger)
	wireMetrics(tr, collector)

	dest := identity.NewDestination(id, identity.DirectionIn, identity.KindSingle, lxmfApp, lxmfAspect)
	if err := tr.RegisterDestination(dest, lxmfDataCallback(store, collector, logger)); err != nil {
		return fmt.Errorf("register lxmf destination: %w", err)
	}

	reassembler := fragment.NewReassembler(logger)
	reassembler.SetTimeout(cfg.Reticulum.ReassemblyTimeout)
	accumulator := segment.NewAccumulator(logger)
	wireFragmentPipeline(reassembler, accumulator, tr, collector, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	var ai *autoiface.AutoInterface
	if cfg.Reticulum.InterfaceName != "" {
		ai, err = autoiface.New(autoiface.Config{
			GroupID:          cfg.Reticulum.GroupID,
			InterfaceName:    cfg.Reticulum.InterfaceName,
			DiscoveryPort:    cfg.Reticulum.DiscoveryPort,
			DataPort:         cfg.Reticulum.DataPort,
			AnnounceInterval: cfg.Reticulum.AnnounceInterval,
			PeeringTimeout:   cfg.Reticulum.PeerTimeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("start autointerface on %s: %w", cfg.Reticulum.InterfaceName, err)
		}
		defer closeAutoInterface(ai, logger)

		tr.RegisterInterface(ai)
		g.Go(func() error { ai.Run(gCtx); return nil })

		router := iface.NewRouterWithDedup(tr, logger, cfg.Reticulum.DequeTTL, cfg.Reticulum.DequeSize)
		g.Go(func() error { return router.Run(gCtx, ai) })

		g.Go(func() error {
			ticker := time.NewTicker(5 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-gCtx.Done():
					return nil
				case <-ticker.C:
					collector.SetDiscoveredPeers(ai.PeerCount())
				}
			}
		})
	} else {
		logger.Info("no reticulum.interface_name configured, autointerface discovery disabled")
	}

	g.Go(func() error { tr.Run(gCtx); return nil })
	g.Go(func() error { reassembler.Run(gCtx); return nil })
	g.Go(func() error { accumulator.Run(gCtx); return nil })

	bgpCloser, err := startRouteExport(gCtx, g, cfg.RouteExport, tr, collector, logger)
	if err != nil {
		return fmt.Errorf("start route export: %w", err)
	}
	defer closeRouteExportClient(bgpCloser, logger)

	adminSrv := newAdminServer(cfg.Admin, tr, ai, store, logger)
	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	startHTTPServers(gCtx, g, cfg, adminSrv, metricsSrv, logger)
	g.Go(func() error { return runWatchdog(gCtx, logger) })

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, fr, adminSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

// wireMetrics subscribes the Collector to Transport's announce callback
// so the active-path gauge follows path-table churn.
func wireMetrics(tr *transport.Transport, collector *metrics.Collector) {
	tr.SetAnnounceCallback(func(_ [16]byte, _ transport.PathEntry, _ []byte) {
		collector.SetActivePaths(len(tr.Paths()))
	})
}

// lxmfDataCallback returns the Transport data callback that unpacks an
// inbound LXMF payload and persists it to the store.
func lxmfDataCallback(store *lxmf.Store, collector *metrics.Collector, logger *slog.Logger) transport.DataCallback {
	return func(_ [16]byte, ifaceName string, payload []byte) {
		m, err := lxmf.UnpackMessage(payload)
		if err != nil {
			logger.Warn("dropping unparseable lxmf payload",
				slog.String("interface", ifaceName), slog.String("error", err.Error()))
			return
		}
		m.Incoming = true
		m.State = lxmf.StateDelivered

		if err := store.SaveMessage(m); err != nil {
			logger.Warn("failed to save inbound lxmf message", slog.String("error", err.Error()))
			return
		}
		collector.IncLXMFMessagesSaved()
		collector.SetLXMFConversations(store.ConversationCount())
		collector.SetLXMFMessages(store.MessageCount())
	}
}

// wireFragmentPipeline routes the output of BLE fragment reassembly and
// of segment accumulation into Transport's demuxer, the software half
// of the BLE ingestion path (spec §4.2-§4.3). Reassembled packets are
// demuxed on "ble" and accumulated payloads on "ble-segmented"; the two
// stages are independent and nothing here feeds the accumulator. No concrete BLE radio
// backend exists in this tree; any future BLE Interface feeds raw
// fragments into reassembler.ProcessFragment to drive this pipeline.
func wireFragmentPipeline(
	reassembler *fragment.Reassembler,
	accumulator *segment.Accumulator,
	tr *transport.Transport,
	collector *metrics.Collector,
	logger *slog.Logger,
) {
	reassembler.SetTimeoutCallback(func(_ [16]byte, _, _ uint16) {
		collector.IncFragmentTimeouts()
	})
	reassembler.SetReassemblyCallback(func(_ [16]byte, packet []byte) {
		pkt, err := wirePacket(packet)
		if err != nil {
			logger.Debug("dropping unparseable reassembled ble packet", slog.String("error", err.Error()))
			return
		}
		if err := tr.Demux("ble", pkt); err != nil {
			logger.Debug("demux error for reassembled ble packet", slog.String("error", err.Error()))
		}
	})
	accumulator.SetAccumulatedCallback(func(data []byte, _ [segment.HashSize]byte) {
		pkt, err := wirePacket(data)
		if err != nil {
			logger.Debug("dropping unparseable accumulated segment", slog.String("error", err.Error()))
			return
		}
		if err := tr.Demux("ble-segmented", pkt); err != nil {
			logger.Debug("demux error for accumulated segment", slog.String("error", err.Error()))
		}
	})
}

// wirePacket parses raw bytes reconstructed by the fragment/segment
// pipeline into a Reticulum packet suitable for Transport.Demux.
func wirePacket(raw []byte) (*wire.Packet, error) {
	return wire.Unmarshal(raw)
}

func closeAutoInterface(ai *autoiface.AutoInterface, logger *slog.Logger) {
	if err := ai.Close(); err != nil {
		logger.Warn("failed to close autointerface", slog.String("error", err.Error()))
	}
}

// -------------------------------------------------------------------------
// Node identity persistence
// -------------------------------------------------------------------------

// loadOrCreateIdentity loads a previously persisted node identity from
// storage, or generates and persists a fresh one on first run.
func loadOrCreateIdentity(fs *fsabs.FS, logger *slog.Logger) (*identity.Identity, error) {
	if fs.FileExists(identityFile) {
		raw, err := fs.ReadFile(identityFile)
		if err != nil {
			return nil, fmt.Errorf("read identity file: %w", err)
		}
		id, err := decodeIdentity(raw)
		if err != nil {
			return nil, fmt.Errorf("decode identity file: %w", err)
		}
		logger.Info("loaded node identity", slog.String("hash", hashHex(id.Hash())))
		return id, nil
	}

	id, err := identity.New()
	if err != nil {
		return nil, fmt.Errorf("generate node identity: %w", err)
	}

	if _, err := fs.WriteFile(identityFile, encodeIdentity(id)); err != nil {
		return nil, fmt.Errorf("persist identity file: %w", err)
	}

	logger.Info("generated new node identity", slog.String("hash", hashHex(id.Hash())))
	return id, nil
}

// encodeIdentity concatenates the Ed25519 private key and X25519 private
// key into the raw bytes persisted to identityFile.
func encodeIdentity(id *identity.Identity) []byte {
	signPriv := id.SignPrivate()
	encryptPriv := id.EncryptPrivate()
	out := make([]byte, 0, len(signPriv)+len(encryptPriv))
	out = append(out, signPriv...)
	out = append(out, encryptPriv[:]...)
	return out
}

// decodeIdentity reverses encodeIdentity.
func decodeIdentity(raw []byte) (*identity.Identity, error) {
	const signPrivSize = ed25519.PrivateKeySize
	if len(raw) != signPrivSize+32 {
		return nil, fmt.Errorf("identity file has wrong length %d, want %d", len(raw), signPrivSize+32)
	}

	signPriv := ed25519.PrivateKey(raw[:signPrivSize])
	var encryptPriv [32]byte
	copy(encryptPriv[:], raw[signPrivSize:])

	return identity.FromPrivateKeys(signPriv, encryptPriv)
}

func hashHex(h [identity.HashSize]byte) string {
	return hex.EncodeToString(h[:])
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// Route export (optional GoBGP bridge)
// -------------------------------------------------------------------------

func startRouteExport(
	ctx context.Context,
	g *errgroup.Group,
	cfg config.RouteExportConfig,
	tr *transport.Transport,
	collector *metrics.Collector,
	logger *slog.Logger,
) (routeexport.Client, error) {
	if !cfg.Enabled {
		logger.Info("route export disabled")
		return nil, nil
	}

	client, err := routeexport.NewGRPCClient(routeexport.GRPCClientConfig{Addr: cfg.GoBGPAddr}, logger)
	if err != nil {
		return nil, fmt.Errorf("create gobgp client: %w", err)
	}

	handler := routeexport.NewHandler(routeexport.HandlerConfig{
		Client: client,
		Dampening: routeexport.DampeningConfig{
			Enabled:           cfg.DampeningEnabled,
			SuppressThreshold: cfg.DampeningSuppressThreshold,
			ReuseThreshold:    cfg.DampeningReuseThreshold,
			MaxSuppressTime:   cfg.DampeningMaxSuppressTime,
			HalfLife:          cfg.DampeningHalfLife,
		},
		ReconcileInterval: cfg.ReconcileInterval,
		Logger:            logger,
	})

	g.Go(func() error { return handler.Run(ctx, tr) })

	logger.Info("route export enabled",
		slog.String("gobgp_addr", cfg.GoBGPAddr),
		slog.Bool("dampening", cfg.DampeningEnabled),
	)
	_ = collector // the routeexport counters in metrics.Collector are not incremented anywhere

	return client, nil
}

func closeRouteExportClient(client routeexport.Client, logger *slog.Logger) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.Warn("failed to close gobgp client", slog.String("error", err.Error()))
	}
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(
	ctx context.Context,
	logger *slog.Logger,
	fr *trace.FlightRecorder,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight Recorder
// -------------------------------------------------------------------------

func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder", slog.String("error", err.Error()))
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)

	return fr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	adminSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("admin server listening", slog.String("addr", cfg.Admin.Addr))
		return listenAndServe(ctx, &lc, adminSrv, cfg.Admin.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newAdminServer creates the h2c-wrapped HTTP server exposing the JSON
// admin API alongside a gRPC health endpoint.
func newAdminServer(
	cfg config.AdminConfig,
	tr *transport.Transport,
	ai *autoiface.AutoInterface,
	store *lxmf.Store,
	logger *slog.Logger,
) *http.Server {
	mux := http.NewServeMux()

	path, handler := server.New(tr, ai, store, logger)
	mux.Handle(path, handler)

	checker := grpchealth.NewStaticChecker(grpchealth.HealthV1ServiceName)
	mux.Handle(grpchealth.NewHandler(checker))

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// -------------------------------------------------------------------------
// Config / logging bootstrap
// -------------------------------------------------------------------------

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
