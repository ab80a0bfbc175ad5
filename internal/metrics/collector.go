// Package metrics exposes Prometheus instrumentation for the mesh
// transport, discovery, fragmentation/reassembly, and message-store
// subsystems.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reticulum"

// Label names.
const (
	labelInterface = "interface"
	labelDirection = "direction"
)

// -------------------------------------------------------------------------
// Collector — Prometheus mesh metrics
// -------------------------------------------------------------------------

// Collector holds all reticulum-core Prometheus metrics.
//
// Metrics are grouped by subsystem:
//   - transport: path table size, announce/data packet volume.
//   - autoiface: discovered peer count, multicast announce volume.
//   - fragment / segment: in-flight reassembly sessions and timeouts.
//   - lxmf: message store occupancy and operation counters.
//   - routeexport: advertised/withdrawn/suppressed BGP routes.
type Collector struct {
	// ActivePaths tracks the number of live entries in the transport
	// path table. Set to the table's size each time an announce is
	// accepted, not incremented/decremented per-event; passive expiries
	// show up at the next accepted announce.
	ActivePaths prometheus.Gauge

	// AnnouncesSent counts outbound announce packets per interface.
	AnnouncesSent *prometheus.CounterVec

	// AnnouncesReceived counts inbound announce packets accepted into
	// the path table per interface.
	AnnouncesReceived *prometheus.CounterVec

	// DataPackets counts data packets by interface and direction
	// ("sent"/"received"/"dropped").
	DataPackets *prometheus.CounterVec

	// DiscoveredPeers tracks the number of peers AutoInterface currently
	// considers live.
	DiscoveredPeers prometheus.Gauge

	// FragmentSessionsPending tracks in-flight BLE fragment reassembly
	// sessions.
	FragmentSessionsPending prometheus.Gauge

	// FragmentTimeouts counts reassembly sessions dropped for exceeding
	// their timeout before all fragments arrived.
	FragmentTimeouts prometheus.Counter

	// SegmentTransfersPending tracks in-flight Resource segment
	// accumulations.
	SegmentTransfersPending prometheus.Gauge

	// SegmentTimeouts counts segment accumulations dropped for
	// exceeding their timeout.
	SegmentTimeouts prometheus.Counter

	// LXMFConversations tracks the number of conversations currently
	// held in the message store.
	LXMFConversations prometheus.Gauge

	// LXMFMessages tracks the total number of messages currently held
	// across all conversations.
	LXMFMessages prometheus.Gauge

	// LXMFMessagesSaved counts messages persisted to the store.
	LXMFMessagesSaved prometheus.Counter

	// LXMFMessagesDeleted counts messages removed from the store.
	LXMFMessagesDeleted prometheus.Counter

	// LXMFPoolExhausted counts save attempts rejected because a pool
	// (conversations or messages-per-conversation) was already full.
	LXMFPoolExhausted prometheus.Counter

	// RouteExportAdvertised counts routes advertised to GoBGP.
	RouteExportAdvertised prometheus.Counter

	// RouteExportWithdrawn counts routes withdrawn from GoBGP.
	RouteExportWithdrawn prometheus.Counter

	// RouteExportSuppressed counts advertise/withdraw events suppressed
	// by flap dampening.
	RouteExportSuppressed prometheus.Counter
}

// NewCollector creates a Collector with all mesh metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.ActivePaths,
		c.AnnouncesSent,
		c.AnnouncesReceived,
		c.DataPackets,
		c.DiscoveredPeers,
		c.FragmentSessionsPending,
		c.FragmentTimeouts,
		c.SegmentTransfersPending,
		c.SegmentTimeouts,
		c.LXMFConversations,
		c.LXMFMessages,
		c.LXMFMessagesSaved,
		c.LXMFMessagesDeleted,
		c.LXMFPoolExhausted,
		c.RouteExportAdvertised,
		c.RouteExportWithdrawn,
		c.RouteExportSuppressed,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	ifaceLabels := []string{labelInterface}
	dataLabels := []string{labelInterface, labelDirection}

	return &Collector{
		ActivePaths: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "active_paths",
			Help:      "Number of destination hashes currently present in the path table.",
		}),

		AnnouncesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "announces_sent_total",
			Help:      "Total announce packets transmitted.",
		}, ifaceLabels),

		AnnouncesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "announces_received_total",
			Help:      "Total announce packets accepted into the path table.",
		}, ifaceLabels),

		DataPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "data_packets_total",
			Help:      "Total data packets by interface and direction.",
		}, dataLabels),

		DiscoveredPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "autoiface",
			Name:      "discovered_peers",
			Help:      "Number of peers currently considered live by AutoInterface discovery.",
		}),

		FragmentSessionsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fragment",
			Name:      "sessions_pending",
			Help:      "Number of in-flight BLE fragment reassembly sessions.",
		}),

		FragmentTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fragment",
			Name:      "timeouts_total",
			Help:      "Total fragment reassembly sessions dropped on timeout.",
		}),

		SegmentTransfersPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "segment",
			Name:      "transfers_pending",
			Help:      "Number of in-flight Resource segment accumulations.",
		}),

		SegmentTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "segment",
			Name:      "timeouts_total",
			Help:      "Total segment accumulations dropped on timeout.",
		}),

		LXMFConversations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lxmf",
			Name:      "conversations",
			Help:      "Number of conversations currently held in the message store.",
		}),

		LXMFMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lxmf",
			Name:      "messages",
			Help:      "Number of messages currently held across all conversations.",
		}),

		LXMFMessagesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lxmf",
			Name:      "messages_saved_total",
			Help:      "Total messages persisted to the message store.",
		}),

		LXMFMessagesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lxmf",
			Name:      "messages_deleted_total",
			Help:      "Total messages removed from the message store.",
		}),

		LXMFPoolExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lxmf",
			Name:      "pool_exhausted_total",
			Help:      "Total save attempts rejected because a fixed-capacity pool was full.",
		}),

		RouteExportAdvertised: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routeexport",
			Name:      "advertised_total",
			Help:      "Total routes advertised to the GoBGP speaker.",
		}),

		RouteExportWithdrawn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routeexport",
			Name:      "withdrawn_total",
			Help:      "Total routes withdrawn from the GoBGP speaker.",
		}),

		RouteExportSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routeexport",
			Name:      "suppressed_total",
			Help:      "Total advertise/withdraw events suppressed by flap dampening.",
		}),
	}
}

// -------------------------------------------------------------------------
// Transport
// -------------------------------------------------------------------------

// SetActivePaths sets the current path table size.
func (c *Collector) SetActivePaths(n int) {
	c.ActivePaths.Set(float64(n))
}

// IncAnnouncesSent increments the transmitted announce counter for iface.
func (c *Collector) IncAnnouncesSent(iface string) {
	c.AnnouncesSent.WithLabelValues(iface).Inc()
}

// IncAnnouncesReceived increments the accepted announce counter for iface.
func (c *Collector) IncAnnouncesReceived(iface string) {
	c.AnnouncesReceived.WithLabelValues(iface).Inc()
}

// IncDataPacketsSent increments the sent data packet counter for iface.
func (c *Collector) IncDataPacketsSent(iface string) {
	c.DataPackets.WithLabelValues(iface, "sent").Inc()
}

// IncDataPacketsReceived increments the received data packet counter for iface.
func (c *Collector) IncDataPacketsReceived(iface string) {
	c.DataPackets.WithLabelValues(iface, "received").Inc()
}

// IncDataPacketsDropped increments the dropped data packet counter for iface.
func (c *Collector) IncDataPacketsDropped(iface string) {
	c.DataPackets.WithLabelValues(iface, "dropped").Inc()
}

// -------------------------------------------------------------------------
// AutoInterface
// -------------------------------------------------------------------------

// SetDiscoveredPeers sets the current discovered-peer count.
func (c *Collector) SetDiscoveredPeers(n int) {
	c.DiscoveredPeers.Set(float64(n))
}

// -------------------------------------------------------------------------
// Fragment / Segment
// -------------------------------------------------------------------------

// SetFragmentSessionsPending sets the current in-flight reassembly session count.
func (c *Collector) SetFragmentSessionsPending(n int) {
	c.FragmentSessionsPending.Set(float64(n))
}

// IncFragmentTimeouts increments the fragment reassembly timeout counter.
func (c *Collector) IncFragmentTimeouts() {
	c.FragmentTimeouts.Inc()
}

// SetSegmentTransfersPending sets the current in-flight segment accumulation count.
func (c *Collector) SetSegmentTransfersPending(n int) {
	c.SegmentTransfersPending.Set(float64(n))
}

// IncSegmentTimeouts increments the segment accumulation timeout counter.
func (c *Collector) IncSegmentTimeouts() {
	c.SegmentTimeouts.Inc()
}

// -------------------------------------------------------------------------
// LXMF message store
// -------------------------------------------------------------------------

// SetLXMFConversations sets the current conversation count.
func (c *Collector) SetLXMFConversations(n int) {
	c.LXMFConversations.Set(float64(n))
}

// SetLXMFMessages sets the current total message count.
func (c *Collector) SetLXMFMessages(n int) {
	c.LXMFMessages.Set(float64(n))
}

// IncLXMFMessagesSaved increments the messages-saved counter.
func (c *Collector) IncLXMFMessagesSaved() {
	c.LXMFMessagesSaved.Inc()
}

// IncLXMFMessagesDeleted increments the messages-deleted counter.
func (c *Collector) IncLXMFMessagesDeleted() {
	c.LXMFMessagesDeleted.Inc()
}

// IncLXMFPoolExhausted increments the pool-exhausted counter.
func (c *Collector) IncLXMFPoolExhausted() {
	c.LXMFPoolExhausted.Inc()
}

// -------------------------------------------------------------------------
// Route export
// -------------------------------------------------------------------------

// IncRouteExportAdvertised increments the advertised-routes counter.
func (c *Collector) IncRouteExportAdvertised() {
	c.RouteExportAdvertised.Inc()
}

// IncRouteExportWithdrawn increments the withdrawn-routes counter.
func (c *Collector) IncRouteExportWithdrawn() {
	c.RouteExportWithdrawn.Inc()
}

// IncRouteExportSuppressed increments the dampening-suppressed counter.
func (c *Collector) IncRouteExportSuppressed() {
	c.RouteExportSuppressed.Inc()
}
