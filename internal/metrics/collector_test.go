package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/torlando-tech/reticulum-core/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	if c.ActivePaths == nil {
		t.Error("ActivePaths is nil")
	}
	if c.AnnouncesSent == nil {
		t.Error("AnnouncesSent is nil")
	}
	if c.DataPackets == nil {
		t.Error("DataPackets is nil")
	}
	if c.DiscoveredPeers == nil {
		t.Error("DiscoveredPeers is nil")
	}
	if c.LXMFConversations == nil {
		t.Error("LXMFConversations is nil")
	}
	if c.RouteExportAdvertised == nil {
		t.Error("RouteExportAdvertised is nil")
	}

	// Verify all metrics are registered by gathering them.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	// No data yet, so families may be empty -- but registration must not panic.
	_ = families
}

func TestActivePathsGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.SetActivePaths(5)
	if v := gaugeValue(t, c.ActivePaths); v != 5 {
		t.Errorf("ActivePaths = %v, want 5", v)
	}

	c.SetActivePaths(2)
	if v := gaugeValue(t, c.ActivePaths); v != 2 {
		t.Errorf("ActivePaths = %v, want 2", v)
	}
}

func TestAnnounceCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncAnnouncesSent("autoiface0")
	c.IncAnnouncesSent("autoiface0")
	c.IncAnnouncesReceived("autoiface0")

	if v := counterVecValue(t, c.AnnouncesSent, "autoiface0"); v != 2 {
		t.Errorf("AnnouncesSent = %v, want 2", v)
	}
	if v := counterVecValue(t, c.AnnouncesReceived, "autoiface0"); v != 1 {
		t.Errorf("AnnouncesReceived = %v, want 1", v)
	}
}

func TestDataPacketCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncDataPacketsSent("autoiface0")
	c.IncDataPacketsReceived("autoiface0")
	c.IncDataPacketsReceived("autoiface0")
	c.IncDataPacketsDropped("autoiface0")

	if v := counterVecValue(t, c.DataPackets, "autoiface0", "sent"); v != 1 {
		t.Errorf("DataPackets(sent) = %v, want 1", v)
	}
	if v := counterVecValue(t, c.DataPackets, "autoiface0", "received"); v != 2 {
		t.Errorf("DataPackets(received) = %v, want 2", v)
	}
	if v := counterVecValue(t, c.DataPackets, "autoiface0", "dropped"); v != 1 {
		t.Errorf("DataPackets(dropped) = %v, want 1", v)
	}
}

func TestDiscoveredPeersGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.SetDiscoveredPeers(3)
	if v := gaugeValue(t, c.DiscoveredPeers); v != 3 {
		t.Errorf("DiscoveredPeers = %v, want 3", v)
	}
}

func TestFragmentAndSegmentMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.SetFragmentSessionsPending(4)
	c.IncFragmentTimeouts()
	c.SetSegmentTransfersPending(2)
	c.IncSegmentTimeouts()
	c.IncSegmentTimeouts()

	if v := gaugeValue(t, c.FragmentSessionsPending); v != 4 {
		t.Errorf("FragmentSessionsPending = %v, want 4", v)
	}
	if v := counterValue(t, c.FragmentTimeouts); v != 1 {
		t.Errorf("FragmentTimeouts = %v, want 1", v)
	}
	if v := gaugeValue(t, c.SegmentTransfersPending); v != 2 {
		t.Errorf("SegmentTransfersPending = %v, want 2", v)
	}
	if v := counterValue(t, c.SegmentTimeouts); v != 2 {
		t.Errorf("SegmentTimeouts = %v, want 2", v)
	}
}

func TestLXMFMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.SetLXMFConversations(1)
	c.SetLXMFMessages(4)
	c.IncLXMFMessagesSaved()
	c.IncLXMFMessagesSaved()
	c.IncLXMFMessagesDeleted()
	c.IncLXMFPoolExhausted()

	if v := gaugeValue(t, c.LXMFConversations); v != 1 {
		t.Errorf("LXMFConversations = %v, want 1", v)
	}
	if v := gaugeValue(t, c.LXMFMessages); v != 4 {
		t.Errorf("LXMFMessages = %v, want 4", v)
	}
	if v := counterValue(t, c.LXMFMessagesSaved); v != 2 {
		t.Errorf("LXMFMessagesSaved = %v, want 2", v)
	}
	if v := counterValue(t, c.LXMFMessagesDeleted); v != 1 {
		t.Errorf("LXMFMessagesDeleted = %v, want 1", v)
	}
	if v := counterValue(t, c.LXMFPoolExhausted); v != 1 {
		t.Errorf("LXMFPoolExhausted = %v, want 1", v)
	}
}

func TestRouteExportMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncRouteExportAdvertised()
	c.IncRouteExportAdvertised()
	c.IncRouteExportWithdrawn()
	c.IncRouteExportSuppressed()

	if v := counterValue(t, c.RouteExportAdvertised); v != 2 {
		t.Errorf("RouteExportAdvertised = %v, want 2", v)
	}
	if v := counterValue(t, c.RouteExportWithdrawn); v != 1 {
		t.Errorf("RouteExportWithdrawn = %v, want 1", v)
	}
	if v := counterValue(t, c.RouteExportSuppressed); v != 1 {
		t.Errorf("RouteExportSuppressed = %v, want 1", v)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}

func counterVecValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
