// Package routeexport optionally republishes the Transport path table
// into GoBGP: each reachable destination hash becomes an IPv6 /128
// route (the hash bytes themselves, being 16 bytes wide, double as the
// route's address), with hop count carried as the route's MED so BGP
// best-path selection prefers shorter mesh paths. Export is dampened
// (RFC 2439-style) so a flapping path does not churn the BGP RIB.
package routeexport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	apipb "github.com/osrg/gobgp/v3/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/anypb"
)

// Client abstracts the GoBGP gRPC operations this package needs,
// enabling testing without a running GoBGP instance.
type Client interface {
	// AdvertisePath installs or refreshes a route for prefix with med
	// as its MED attribute (lower is preferred; used here to carry hop
	// count).
	AdvertisePath(ctx context.Context, prefix netip.Prefix, med uint32) error

	// WithdrawPath removes a previously advertised route for prefix.
	WithdrawPath(ctx context.Context, prefix netip.Prefix) error

	// Close releases the underlying gRPC connection.
	Close() error
}

var (
	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("routeexport: client is closed")

	// ErrDialFailed indicates the gRPC dial to GoBGP failed.
	ErrDialFailed = errors.New("routeexport: gobgp gRPC dial failed")
)

// GRPCClient connects to GoBGP's gRPC API and implements Client.
type GRPCClient struct {
	conn   *grpc.ClientConn
	api    apipb.GobgpApiClient
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// GRPCClientConfig holds connection parameters for the GoBGP gRPC client.
type GRPCClientConfig struct {
	// Addr is the GoBGP gRPC listen address (e.g., "127.0.0.1:50051").
	Addr string

	// DialTimeout is the maximum time to wait for the initial
	// connection. Zero means no timeout (use context deadline instead).
	DialTimeout time.Duration
}

// NewGRPCClient creates a GoBGP gRPC client using insecure (plaintext)
// credentials, matching GoBGP's typical localhost-only deployment.
func NewGRPCClient(cfg GRPCClientConfig, logger *slog.Logger) (*GRPCClient, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("create routeexport client: %w: empty address", ErrDialFailed)
	}

	conn, err := grpc.NewClient(
		cfg.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("create routeexport client to %s: %w: %w", cfg.Addr, ErrDialFailed, err)
	}

	client := &GRPCClient{
		conn: conn,
		api:  apipb.NewGobgpApiClient(conn),
		logger: logger.With(
			slog.String("component", "routeexport.client"),
			slog.String("addr", cfg.Addr),
		),
	}

	client.logger.Info("routeexport gRPC client created", slog.String("target", cfg.Addr))
	return client, nil
}

// AdvertisePath installs or refreshes an IPv6 /128 route for prefix.
func (c *GRPCClient) AdvertisePath(ctx context.Context, prefix netip.Prefix, med uint32) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return fmt.Errorf("advertise %s: %w", prefix, ErrClientClosed)
	}
	c.mu.RUnlock()

	path, err := buildPath(prefix, med)
	if err != nil {
		return fmt.Errorf("advertise %s: %w", prefix, err)
	}

	if _, err := c.api.AddPath(ctx, &apipb.AddPathRequest{Path: path}); err != nil {
		return fmt.Errorf("advertise %s: %w", prefix, err)
	}

	c.logger.Debug("advertised mesh route", slog.String("prefix", prefix.String()), slog.Uint64("med", uint64(med)))
	return nil
}

// WithdrawPath removes a previously advertised route.
func (c *GRPCClient) WithdrawPath(ctx context.Context, prefix netip.Prefix) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return fmt.Errorf("withdraw %s: %w", prefix, ErrClientClosed)
	}
	c.mu.RUnlock()

	path, err := buildPath(prefix, 0)
	if err != nil {
		return fmt.Errorf("withdraw %s: %w", prefix, err)
	}

	if _, err := c.api.DeletePath(ctx, &apipb.DeletePathRequest{Path: path}); err != nil {
		return fmt.Errorf("withdraw %s: %w", prefix, err)
	}

	c.logger.Debug("withdrew mesh route", slog.String("prefix", prefix.String()))
	return nil
}

// Close releases the underlying gRPC connection.
func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close routeexport client: %w", err)
	}
	c.logger.Info("routeexport gRPC client closed")
	return nil
}

// buildPath constructs the GoBGP API Path message for an IPv6 unicast
// /128 route, tagging it with med as its MULTI_EXIT_DISC attribute.
func buildPath(prefix netip.Prefix, med uint32) (*apipb.Path, error) {
	nlri, err := anypb.New(&apipb.IPAddressPrefix{
		Prefix:    prefix.Addr().String(),
		PrefixLen: uint32(prefix.Bits()),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal nlri: %w", err)
	}

	origin, err := anypb.New(&apipb.OriginAttribute{Origin: 0}) // IGP
	if err != nil {
		return nil, fmt.Errorf("marshal origin attribute: %w", err)
	}

	medAttr, err := anypb.New(&apipb.MultiExitDiscAttribute{Med: med})
	if err != nil {
		return nil, fmt.Errorf("marshal med attribute: %w", err)
	}

	return &apipb.Path{
		Nlri: nlri,
		Family: &apipb.Family{
			Afi:  apipb.Family_AFI_IP6,
			Safi: apipb.Family_SAFI_UNICAST,
		},
		Pattrs: []*anypb.Any{origin, medAttr},
	}, nil
}
