package relay

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"

	"github.com/n0needt0/goodies/switchyard/internal/admission"
	"github.com/n0needt0/goodies/switchyard/internal/config"
	"github.com/n0needt0/goodies/switchyard/internal/domain"
	"github.com/n0needt0/goodies/switchyard/internal/services"
	"github.com/n0needt0/goodies/switchyard/internal/stats"
)

// Frontend owns one listening socket and every relay task spawned from
// it. All lifecycle transitions go through Start and Stop.
type Frontend struct {
	cfg config.Frontend
	svc *services.Services

	gate  *admission.Gate
	stats *stats.FrontendStats

	target     config.Backend
	hasDefault bool
	routes     []route

	dialTimeout  time.Duration
	idleTimeout  time.Duration
	sniffTimeout time.Duration
	flowTTL      time.Duration

	bufPool *sync.Pool

	ingressTLS *tls.Config

	mu       sync.Mutex
	status   string
	lastErr  string
	listener net.Listener
	udpConn  *net.UDPConn
	conns    map[net.Conn]struct{}
	flows    map[string]*udpFlow
	quit     chan struct{}
	wg       sync.WaitGroup
}

func newFrontend(cfg config.Frontend, svc *services.Services) *Frontend {
	conf := svc.Config
	backends := conf.BackendMap()

	f := &Frontend{
		cfg:          cfg,
		svc:          svc,
		gate:         admission.NewGate(cfg.MaxConnections, cfg.RateLimit),
		dialTimeout:  conf.DialTimeout(),
		idleTimeout:  conf.IdleTimeout(),
		sniffTimeout: conf.SniffTimeout(),
		flowTTL:      conf.UDPFlowTTL(),
		status:       domain.StatusStopped,
		bufPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, conf.Defaults.ReadBufferSizeBytes)
			},
		},
	}

	if cfg.DefaultBackend != "" {
		f.target = backends[cfg.DefaultBackend]
		f.hasDefault = true
	}
	for _, r := range cfg.DomainRoutes {
		f.routes = append(f.routes, route{domain: hostKey(r.Domain), backend: backends[r.Backend]})
	}
	return f
}

// Start binds the socket and launches the accept machinery. Failures
// mark only this frontend failed.
func (f *Frontend) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status == domain.StatusRunning {
		return domain.Conflict{Err: errors.Errorf("frontend %s already running", f.cfg.Name)}
	}

	if f.needsIngressTLS() {
		cfg, err := serverTLSConfig(f.cfg.CertFile, f.cfg.KeyFile)
		if err != nil {
			return f.failStart(err)
		}
		f.ingressTLS = cfg
	}

	f.quit = make(chan struct{})
	f.conns = make(map[net.Conn]struct{})
	f.flows = make(map[string]*udpFlow)

	switch f.cfg.Mode {
	case domain.ModeUDP:
		addr, err := net.ResolveUDPAddr("udp", f.cfg.Bind)
		if err != nil {
			return f.failStart(domain.BindError{Frontend: f.cfg.Name, Err: err})
		}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			return f.failStart(domain.BindError{Frontend: f.cfg.Name, Err: err})
		}
		conn.SetReadBuffer(f.svc.Config.Defaults.ReadBufferSizeBytes)
		f.udpConn = conn
		f.stats = f.svc.Stats.Register(f.cfg.Name, f.cfg.Mode, f.cfg.Bind, f.targetLabel())
		f.wg.Add(2)
		go f.udpLoop(conn)
		go f.udpSweeper()
	default:
		ln, err := net.Listen("tcp", f.cfg.Bind)
		if err != nil {
			return f.failStart(domain.BindError{Frontend: f.cfg.Name, Err: err})
		}
		f.listener = ln
		f.stats = f.svc.Stats.Register(f.cfg.Name, f.cfg.Mode, f.cfg.Bind, f.targetLabel())
		f.wg.Add(1)
		go f.acceptLoop(ln)
	}

	f.status = domain.StatusRunning
	f.lastErr = ""
	log.Infof("frontend %s listening on %s (mode %s)", f.cfg.Name, f.cfg.Bind, f.modeLabel())
	return nil
}

func (f *Frontend) failStart(err error) error {
	f.status = domain.StatusFailed
	f.lastErr = err.Error()
	return err
}

func (f *Frontend) needsIngressTLS() bool {
	if f.cfg.Mode == domain.ModeUDP {
		return false
	}
	return f.cfg.Auto || f.cfg.Flexible || f.cfg.CertFile != ""
}

func (f *Frontend) modeLabel() string {
	if f.cfg.Auto {
		return "auto"
	}
	return f.cfg.Mode
}

func (f *Frontend) targetLabel() string {
	if f.hasDefault {
		return f.target.Server
	}
	return "domain-routed"
}

func (f *Frontend) acceptLoop(ln net.Listener) {
	defer f.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-f.quit:
				return
			default:
			}
			if isClosedConnError(err) {
				return
			}
			log.Errorf("frontend %s: accept error: %v", f.cfg.Name, err)
			continue
		}

		f.wg.Add(1)
		go f.handleConn(conn)
	}
}

// handleConn runs the per-connection pipeline: IP filter, then
// admission, then the mode relay. Every failure stays inside this
// goroutine.
func (f *Frontend) handleConn(conn net.Conn) {
	defer f.wg.Done()
	defer conn.Close()

	f.trackConn(conn)
	defer f.untrackConn(conn)

	ip := remoteIP(conn.RemoteAddr())
	if err := f.svc.Filter.Admit(ip); err != nil {
		f.stats.Blocked()
		log.Infof("frontend %s: %v", f.cfg.Name, err)
		if f.cfg.Mode == domain.ModeHTTP {
			synthesize(conn, http.StatusForbidden, "forbidden")
		}
		return
	}

	if err := f.gate.Admit(); err != nil {
		f.denied(conn, err)
		return
	}
	defer f.gate.Release()

	f.stats.ConnOpened()
	defer f.stats.ConnClosed()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	switch f.cfg.Mode {
	case domain.ModeHTTP:
		f.serveHTTPConn(conn)
	default:
		if f.cfg.Auto {
			f.serveAuto(conn)
			return
		}
		if f.ingressTLS != nil {
			tlsConn, err := wrapServerTLS(conn, f.ingressTLS)
			if err != nil {
				f.stats.ConnFailed()
				log.Debugf("frontend %s: %v", f.cfg.Name, err)
				return
			}
			f.serveTCP(tlsConn)
			return
		}
		f.serveTCP(conn)
	}
}

// denied answers an admission rejection per mode: HTTP clients get a
// synthesized status, raw clients just see the close.
func (f *Frontend) denied(conn net.Conn, err error) {
	log.Debugf("frontend %s: %v", f.cfg.Name, err)

	if f.cfg.Mode == domain.ModeHTTP {
		f.stats.RequestFailed()
		code := http.StatusServiceUnavailable
		var adm domain.AdmissionError
		if errors.As(err, &adm) && adm.Reason == domain.ReasonRateLimit {
			code = http.StatusTooManyRequests
		}
		synthesize(conn, code, http.StatusText(code))
		return
	}
	f.stats.ConnFailed()
}

func (f *Frontend) serveHTTPConn(conn net.Conn) {
	if f.ingressTLS != nil {
		tlsConn, err := wrapServerTLS(conn, f.ingressTLS)
		if err != nil {
			f.stats.RequestFailed()
			log.Debugf("frontend %s: %v", f.cfg.Name, err)
			return
		}
		conn = tlsConn
	}
	f.serveHTTP(conn)
}

// serveAuto classifies the stream first. A TLS lead byte gets the
// handshake terminated here, then the decrypted stream is classified
// again so HTTPS clients still reach the domain router.
func (f *Frontend) serveAuto(conn net.Conn) {
	class, wrapped, err := sniff(conn, f.sniffTimeout)
	if err != nil {
		f.stats.ConnFailed()
		log.Debugf("frontend %s: sniff failed: %v", f.cfg.Name, err)
		return
	}

	if class == classTLS {
		tlsConn, err := wrapServerTLS(wrapped, f.ingressTLS)
		if err != nil {
			f.stats.ConnFailed()
			log.Debugf("frontend %s: %v", f.cfg.Name, err)
			return
		}
		class, wrapped, err = sniff(tlsConn, f.sniffTimeout)
		if err != nil {
			f.stats.ConnFailed()
			log.Debugf("frontend %s: sniff after tls failed: %v", f.cfg.Name, err)
			return
		}
		log.Debugf("frontend %s: terminated tls, inner protocol %s", f.cfg.Name, class)
	}

	if class == classHTTP {
		f.serveHTTP(wrapped)
		return
	}
	f.serveTCP(wrapped)
}

func (f *Frontend) trackConn(conn net.Conn) {
	f.mu.Lock()
	if f.conns != nil {
		f.conns[conn] = struct{}{}
	}
	f.mu.Unlock()
}

func (f *Frontend) untrackConn(conn net.Conn) {
	f.mu.Lock()
	delete(f.conns, conn)
	f.mu.Unlock()
}

// Stop closes the listener, retires UDP flows, and waits out in-flight
// relays up to the grace period before force-closing stragglers.
func (f *Frontend) Stop(grace time.Duration) {
	f.mu.Lock()
	if f.status != domain.StatusRunning {
		f.mu.Unlock()
		return
	}
	f.status = domain.StatusStopped
	close(f.quit)
	if f.listener != nil {
		f.listener.Close()
		f.listener = nil
	}
	if f.udpConn != nil {
		f.udpConn.Close()
	}
	flows := make(map[string]*udpFlow, len(f.flows))
	for k, fl := range f.flows {
		flows[k] = fl
	}
	f.mu.Unlock()

	for k, fl := range flows {
		f.dropFlow(k, fl)
	}

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		log.Warnf("frontend %s: grace period expired, force closing connections", f.cfg.Name)
		f.forceClose()
		<-done
	}

	f.svc.Stats.Deregister(f.cfg.Name)
	log.Infof("frontend %s stopped", f.cfg.Name)
}

func (f *Frontend) forceClose() {
	f.mu.Lock()
	for conn := range f.conns {
		conn.Close()
	}
	f.mu.Unlock()
}

// Addr reports the bound address while running, nil otherwise. Callers
// binding port 0 recover the assigned port here.
func (f *Frontend) Addr() net.Addr {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status != domain.StatusRunning {
		return nil
	}
	if f.listener != nil {
		return f.listener.Addr()
	}
	if f.udpConn != nil {
		return f.udpConn.LocalAddr()
	}
	return nil
}

// Snapshot reports live counters while running and a bare shell
// otherwise; counters do not survive a stop.
func (f *Frontend) Snapshot() domain.FrontendSnapshot {
	f.mu.Lock()
	status := f.status
	lastErr := f.lastErr
	f.mu.Unlock()

	if status == domain.StatusRunning && f.stats != nil {
		return f.stats.Snapshot(status)
	}

	return domain.FrontendSnapshot{
		Name:      f.cfg.Name,
		Mode:      f.cfg.Mode,
		Bind:      f.cfg.Bind,
		Target:    f.targetLabel(),
		Status:    status,
		LastError: lastErr,
	}
}

// record commits one finished session to history.
func (f *Frontend) record(client net.Conn, backendAddr, host string, sent, received int64, start time.Time, status string) {
	f.svc.Record(domain.SessionRecord{
		Time:          time.Now().UTC().Format(time.RFC3339Nano),
		Frontend:      f.cfg.Name,
		Mode:          f.cfg.Mode,
		Client:        client.RemoteAddr().String(),
		Backend:       backendAddr,
		Host:          host,
		BytesSent:     sent,
		BytesReceived: received,
		DurationMs:    time.Since(start).Milliseconds(),
		Status:        status,
	})
}
