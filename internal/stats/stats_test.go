package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/n0needt0/goodies/switchyard/internal/domain"
)

func newTestRegistry() *Registry {
	return NewRegistry(otel.Meter("stats-test"))
}

func TestRegisterAndSnapshot(t *testing.T) {
	r := newTestRegistry()
	s := r.Register("edge", domain.ModeTCP, "127.0.0.1:7000", "127.0.0.1:7001")

	s.ConnOpened()
	s.ConnOpened()
	s.ConnClosed()
	s.ConnFailed()
	s.Blocked()
	s.AddBytesSent(100)
	s.AddBytesReceived(40)

	snap := s.Snapshot(domain.StatusRunning)
	assert.Equal(t, "edge", snap.Name)
	assert.Equal(t, domain.ModeTCP, snap.Mode)
	assert.Equal(t, domain.StatusRunning, snap.Status)
	assert.Equal(t, int64(2), snap.Connections)
	assert.Equal(t, int64(1), snap.ActiveConnections)
	assert.Equal(t, int64(1), snap.FailedConnections)
	assert.Equal(t, int64(1), snap.BlockedIPs)
	assert.Equal(t, int64(100), snap.BytesSent)
	assert.Equal(t, int64(40), snap.BytesReceived)
}

func TestPacketCounters(t *testing.T) {
	r := newTestRegistry()
	s := r.Register("dns", domain.ModeUDP, "127.0.0.1:5353", "127.0.0.1:5354")

	s.PacketIn(30)
	s.PacketIn(10)
	s.PacketOut(25)

	snap := s.Snapshot(domain.StatusRunning)
	assert.Equal(t, int64(2), snap.PacketsIn)
	assert.Equal(t, int64(1), snap.PacketsOut)
	assert.Equal(t, int64(40), snap.BytesSent)
	assert.Equal(t, int64(25), snap.BytesReceived)
}

func TestRequestDoneTracksDomains(t *testing.T) {
	r := newTestRegistry()
	s := r.Register("web", domain.ModeHTTP, "127.0.0.1:8080", "domain-routed")

	s.RequestDone("api.example.com", 100, 300, 2*time.Millisecond)
	s.RequestDone("api.example.com", 50, 100, 4*time.Millisecond)
	s.RequestDone("", 10, 10, time.Millisecond)
	s.RequestFailed()

	snap := s.Snapshot(domain.StatusRunning)
	assert.Equal(t, int64(3), snap.Requests)
	assert.Equal(t, int64(1), snap.FailedRequests)
	assert.Equal(t, int64(160), snap.BytesSent)
	assert.Equal(t, int64(410), snap.BytesReceived)
	assert.InDelta(t, 2.33, snap.AvgResponseMs, 0.2)

	require.Len(t, snap.Domains, 1)
	dc := snap.Domains["api.example.com"]
	assert.Equal(t, int64(2), dc.Requests)
	assert.Equal(t, int64(150), dc.BytesSent)
	assert.Equal(t, int64(400), dc.BytesReceived)
}

func TestGlobalAggregates(t *testing.T) {
	r := newTestRegistry()
	a := r.Register("a", domain.ModeTCP, "127.0.0.1:7000", "127.0.0.1:7001")
	b := r.Register("b", domain.ModeHTTP, "127.0.0.1:8080", "127.0.0.1:8081")

	a.ConnOpened()
	a.AddBytesSent(10)
	a.ConnFailed()
	b.RequestDone("x.example.com", 5, 7, time.Millisecond)
	b.RequestFailed()
	b.Blocked()

	g := r.Global()
	assert.Equal(t, 2, g.Running)
	assert.Equal(t, int64(15), g.BytesSent)
	assert.Equal(t, int64(7), g.BytesReceived)
	assert.Equal(t, int64(1), g.Connections)
	assert.Equal(t, int64(1), g.Requests)
	assert.Equal(t, int64(2), g.FailedTotal)
	assert.Equal(t, int64(1), g.BlockedIPs)
}

func TestSnapshotsSorted(t *testing.T) {
	r := newTestRegistry()
	r.Register("zulu", domain.ModeTCP, "b1", "t1")
	r.Register("alpha", domain.ModeTCP, "b2", "t2")

	snaps := r.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "alpha", snaps[0].Name)
	assert.Equal(t, "zulu", snaps[1].Name)
}

func TestDeregister(t *testing.T) {
	r := newTestRegistry()
	r.Register("gone", domain.ModeTCP, "b", "t")
	require.NotNil(t, r.Get("gone"))

	r.Deregister("gone")
	assert.Nil(t, r.Get("gone"))
	assert.Empty(t, r.Snapshots())
}

func TestRestartResetsCounters(t *testing.T) {
	r := newTestRegistry()
	old := r.Register("edge", domain.ModeTCP, "b", "t")
	old.ConnOpened()
	old.AddBytesSent(500)

	fresh := r.Register("edge", domain.ModeTCP, "b", "t")
	snap := fresh.Snapshot(domain.StatusRunning)
	assert.Zero(t, snap.Connections)
	assert.Zero(t, snap.BytesSent)
}
