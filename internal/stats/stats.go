package stats

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/n0needt0/go-goodies/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/n0needt0/goodies/switchyard/internal/domain"
)

// Registry owns the per-frontend counter sets and the process-wide OTEL
// counters derived from them. Snapshots never block the relay hot path.
type Registry struct {
	mu        sync.RWMutex
	frontends map[string]*FrontendStats
	started   time.Time

	meter    metric.Meter
	countMu  sync.RWMutex
	counters map[string]metric.Int64Counter
}

func NewRegistry(meter metric.Meter) *Registry {
	return &Registry{
		frontends: make(map[string]*FrontendStats),
		started:   time.Now(),
		meter:     meter,
		counters:  make(map[string]metric.Int64Counter),
	}
}

// UseCounter returns the named OTEL counter, creating it on first use.
func (r *Registry) UseCounter(label, description string) metric.Int64Counter {
	r.countMu.RLock()
	mtr, ok := r.counters[label]
	r.countMu.RUnlock()
	if ok {
		return mtr
	}
	m, err := r.meter.Int64Counter(label, metric.WithDescription(description))
	if err != nil {
		log.Errorf("failed to init counter %s: %v", label, err)
		return nil
	}
	r.countMu.Lock()
	r.counters[label] = m
	r.countMu.Unlock()
	return m
}

// Register creates a fresh counter set for a frontend start. A restart gets
// a clean slate; the old set is discarded.
func (r *Registry) Register(name, mode, bind, target string) *FrontendStats {
	s := &FrontendStats{
		Name:    name,
		Mode:    mode,
		Bind:    bind,
		Target:  target,
		started: time.Now(),
		domains: make(map[string]*domainCounters),
		attrs: metric.WithAttributes(
			attribute.String("frontend", name),
			attribute.String("mode", mode),
		),
		bytesSentC: r.UseCounter("relay/bytes_sent", "Bytes relayed from clients to backends"),
		bytesRecvC: r.UseCounter("relay/bytes_received", "Bytes relayed from backends to clients"),
		connsC:     r.UseCounter("relay/connections", "Accepted connections and flows"),
		requestsC:  r.UseCounter("relay/requests", "Handled HTTP requests"),
		deniedC:    r.UseCounter("relay/denied", "Connections denied by ip filter or admission"),
	}
	r.mu.Lock()
	r.frontends[name] = s
	r.mu.Unlock()
	return s
}

// Deregister drops a frontend's counters when it stops.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	delete(r.frontends, name)
	r.mu.Unlock()
}

// Get returns the live counter set for a frontend, nil when not running.
func (r *Registry) Get(name string) *FrontendStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frontends[name]
}

// Snapshots returns a point-in-time view of every running frontend, sorted
// by name.
func (r *Registry) Snapshots() []domain.FrontendSnapshot {
	r.mu.RLock()
	list := make([]*FrontendStats, 0, len(r.frontends))
	for _, s := range r.frontends {
		list = append(list, s)
	}
	r.mu.RUnlock()

	out := make([]domain.FrontendSnapshot, 0, len(list))
	for _, s := range list {
		out = append(out, s.Snapshot(domain.StatusRunning))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Global aggregates every running frontend plus process uptime.
func (r *Registry) Global() domain.GlobalSnapshot {
	snaps := r.Snapshots()
	g := domain.GlobalSnapshot{
		Running:       len(snaps),
		UptimeSeconds: int64(time.Since(r.started).Seconds()),
	}
	for _, s := range snaps {
		g.BytesSent += s.BytesSent
		g.BytesReceived += s.BytesReceived
		g.Connections += s.Connections
		g.Requests += s.Requests
		g.FailedTotal += s.FailedConnections + s.FailedRequests
		g.BlockedIPs += s.BlockedIPs
	}
	return g
}

// FrontendStats carries one frontend's live counters. Counter updates are
// lock-free; only the per-domain map takes a mutex, and snapshots copy it.
type FrontendStats struct {
	Name   string
	Mode   string
	Bind   string
	Target string

	started time.Time

	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
	active        atomic.Int64
	connections   atomic.Int64
	failedConns   atomic.Int64
	requests      atomic.Int64
	failedReqs    atomic.Int64
	packetsIn     atomic.Int64
	packetsOut    atomic.Int64
	blockedIPs    atomic.Int64
	latencyUsSum  atomic.Int64
	latencyCount  atomic.Int64

	mu      sync.Mutex
	domains map[string]*domainCounters

	attrs      metric.MeasurementOption
	bytesSentC metric.Int64Counter
	bytesRecvC metric.Int64Counter
	connsC     metric.Int64Counter
	requestsC  metric.Int64Counter
	deniedC    metric.Int64Counter
}

type domainCounters struct {
	requests      int64
	bytesSent     int64
	bytesReceived int64
}

func (s *FrontendStats) count(c metric.Int64Counter, n int64) {
	if c != nil {
		c.Add(context.Background(), n, s.attrs)
	}
}

// AddBytesSent counts client-to-backend bytes.
func (s *FrontendStats) AddBytesSent(n int64) {
	s.bytesSent.Add(n)
	s.count(s.bytesSentC, n)
}

// AddBytesReceived counts backend-to-client bytes.
func (s *FrontendStats) AddBytesReceived(n int64) {
	s.bytesReceived.Add(n)
	s.count(s.bytesRecvC, n)
}

// ConnOpened marks one admitted connection or flow.
func (s *FrontendStats) ConnOpened() {
	s.active.Add(1)
	s.connections.Add(1)
	s.count(s.connsC, 1)
}

// ConnClosed releases the active gauge.
func (s *FrontendStats) ConnClosed() {
	s.active.Add(-1)
}

// ConnFailed counts dial, handshake, sniff, and admission failures.
func (s *FrontendStats) ConnFailed() {
	s.failedConns.Add(1)
}

// Blocked counts an IP filter denial.
func (s *FrontendStats) Blocked() {
	s.blockedIPs.Add(1)
	s.count(s.deniedC, 1)
}

// PacketIn counts one client-to-backend datagram.
func (s *FrontendStats) PacketIn(bytes int64) {
	s.packetsIn.Add(1)
	s.AddBytesSent(bytes)
}

// PacketOut counts one backend-to-client datagram.
func (s *FrontendStats) PacketOut(bytes int64) {
	s.packetsOut.Add(1)
	s.AddBytesReceived(bytes)
}

// RequestDone commits a completed HTTP exchange with its latency and
// per-domain traffic.
func (s *FrontendStats) RequestDone(host string, sent, received int64, d time.Duration) {
	s.requests.Add(1)
	s.count(s.requestsC, 1)
	s.AddBytesSent(sent)
	s.AddBytesReceived(received)
	s.latencyUsSum.Add(d.Microseconds())
	s.latencyCount.Add(1)
	if host == "" {
		return
	}
	s.mu.Lock()
	dc, ok := s.domains[host]
	if !ok {
		dc = &domainCounters{}
		s.domains[host] = dc
	}
	dc.requests++
	dc.bytesSent += sent
	dc.bytesReceived += received
	s.mu.Unlock()
}

// RequestFailed counts a request that never produced a backend response.
func (s *FrontendStats) RequestFailed() {
	s.failedReqs.Add(1)
}

// Snapshot materializes the counters without stopping writers.
func (s *FrontendStats) Snapshot(status string) domain.FrontendSnapshot {
	snap := domain.FrontendSnapshot{
		Name:              s.Name,
		Mode:              s.Mode,
		Bind:              s.Bind,
		Target:            s.Target,
		Status:            status,
		UptimeSeconds:     int64(time.Since(s.started).Seconds()),
		BytesSent:         s.bytesSent.Load(),
		BytesReceived:     s.bytesReceived.Load(),
		ActiveConnections: s.active.Load(),
		Connections:       s.connections.Load(),
		FailedConnections: s.failedConns.Load(),
		Requests:          s.requests.Load(),
		FailedRequests:    s.failedReqs.Load(),
		PacketsIn:         s.packetsIn.Load(),
		PacketsOut:        s.packetsOut.Load(),
		BlockedIPs:        s.blockedIPs.Load(),
	}
	if n := s.latencyCount.Load(); n > 0 {
		snap.AvgResponseMs = float64(s.latencyUsSum.Load()) / 1000 / float64(n)
	}
	s.mu.Lock()
	if len(s.domains) > 0 {
		snap.Domains = make(map[string]domain.DomainSnapshot, len(s.domains))
		for host, dc := range s.domains {
			snap.Domains[host] = domain.DomainSnapshot{
				Requests:      dc.requests,
				BytesSent:     dc.bytesSent,
				BytesReceived: dc.bytesReceived,
			}
		}
	}
	s.mu.Unlock()
	return snap
}
