package relay

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/n0needt0/go-goodies/log"

	"github.com/n0needt0/goodies/switchyard/internal/domain"
)

// udpFlow pins one client address to a connected backend socket so
// backend replies route back to the right client.
type udpFlow struct {
	clientAddr *net.UDPAddr
	backend    *net.UDPConn
	started    time.Time
	lastSeen   atomic.Int64
	sent       atomic.Int64
	received   atomic.Int64
}

func (fl *udpFlow) touch() {
	fl.lastSeen.Store(time.Now().UnixNano())
}

func (fl *udpFlow) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(time.Unix(0, fl.lastSeen.Load())) > ttl
}

// udpLoop reads datagrams off the bound socket. The short deadline keeps
// the loop responsive to shutdown without burning a poll per packet.
func (f *Frontend) udpLoop(conn *net.UDPConn) {
	defer f.wg.Done()

	for {
		select {
		case <-f.quit:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		buf := f.bufPool.Get().([]byte)
		n, clientAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			f.bufPool.Put(buf)
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if isClosedConnError(err) {
				return
			}
			log.Errorf("frontend %s: udp read error: %v", f.cfg.Name, err)
			continue
		}

		f.handlePacket(conn, clientAddr, buf[:n])
		f.bufPool.Put(buf)
	}
}

// handlePacket forwards one datagram, creating the flow on first sight.
// Filter denials drop the packet; admission denials drop the whole flow
// attempt. Forwarding is synchronous so per-client packet order holds.
func (f *Frontend) handlePacket(conn *net.UDPConn, clientAddr *net.UDPAddr, payload []byte) {
	if err := f.svc.Filter.Admit(clientAddr.IP.String()); err != nil {
		f.stats.Blocked()
		return
	}

	key := clientAddr.String()
	f.mu.Lock()
	fl, ok := f.flows[key]
	f.mu.Unlock()

	if !ok {
		if err := f.gate.Admit(); err != nil {
			f.stats.ConnFailed()
			log.Debugf("frontend %s: %v", f.cfg.Name, err)
			return
		}

		backendAddr, err := net.ResolveUDPAddr("udp", f.target.Server)
		if err != nil {
			f.gate.Release()
			f.stats.ConnFailed()
			log.Errorf("frontend %s: resolving backend %s: %v", f.cfg.Name, f.target.Server, err)
			return
		}
		bconn, err := net.DialUDP("udp", nil, backendAddr)
		if err != nil {
			f.gate.Release()
			f.stats.ConnFailed()
			log.Warnf("frontend %s: %v", f.cfg.Name, domain.DialError{Backend: f.target.Name, Err: err})
			return
		}

		fl = &udpFlow{clientAddr: clientAddr, backend: bconn, started: time.Now()}
		fl.touch()

		f.mu.Lock()
		f.flows[key] = fl
		f.mu.Unlock()
		f.stats.ConnOpened()

		f.wg.Add(1)
		go f.udpReply(fl, key)
	}

	fl.touch()
	fl.backend.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := fl.backend.Write(payload); err != nil {
		log.Warnf("frontend %s: udp forward to %s: %v", f.cfg.Name, f.target.Server, err)
		f.dropFlow(key, fl)
		return
	}
	fl.sent.Add(int64(len(payload)))
	f.stats.PacketIn(int64(len(payload)))
}

// udpReply pumps backend datagrams back to the flow's client address.
// Exits when the backend socket is closed by dropFlow or shutdown.
func (f *Frontend) udpReply(fl *udpFlow, key string) {
	defer f.wg.Done()

	buf := f.bufPool.Get().([]byte)
	defer f.bufPool.Put(buf)

	for {
		fl.backend.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, err := fl.backend.Read(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				select {
				case <-f.quit:
					return
				default:
					continue
				}
			}
			return
		}

		fl.touch()
		if _, err := f.udpConn.WriteToUDP(buf[:n], fl.clientAddr); err != nil {
			if !isClosedConnError(err) {
				log.Warnf("frontend %s: udp reply to %s: %v", f.cfg.Name, fl.clientAddr, err)
			}
			return
		}
		fl.received.Add(int64(n))
		f.stats.PacketOut(int64(n))
	}
}

// dropFlow retires a flow exactly once, releasing its admission slot and
// committing its session record. Called from the read loop, the sweeper,
// and Stop.
func (f *Frontend) dropFlow(key string, fl *udpFlow) {
	f.mu.Lock()
	cur, ok := f.flows[key]
	if !ok || cur != fl {
		f.mu.Unlock()
		return
	}
	delete(f.flows, key)
	f.mu.Unlock()

	fl.backend.Close()
	f.gate.Release()
	f.stats.ConnClosed()

	f.svc.Record(domain.SessionRecord{
		Time:          time.Now().UTC().Format(time.RFC3339Nano),
		Frontend:      f.cfg.Name,
		Mode:          domain.ModeUDP,
		Client:        fl.clientAddr.String(),
		Backend:       f.target.Server,
		BytesSent:     fl.sent.Load(),
		BytesReceived: fl.received.Load(),
		DurationMs:    time.Since(fl.started).Milliseconds(),
		Status:        domain.SessionOK,
	})
}

// udpSweeper expires flows idle past the configured TTL so the flow
// table stays bounded.
func (f *Frontend) udpSweeper() {
	defer f.wg.Done()

	interval := f.flowTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.quit:
			return
		case <-ticker.C:
			now := time.Now()
			stale := make(map[string]*udpFlow)
			f.mu.Lock()
			for key, fl := range f.flows {
				if fl.expired(now, f.flowTTL) {
					stale[key] = fl
				}
			}
			f.mu.Unlock()

			for key, fl := range stale {
				log.Debugf("frontend %s: udp flow %s idle, expiring", f.cfg.Name, key)
				f.dropFlow(key, fl)
			}
		}
	}
}
