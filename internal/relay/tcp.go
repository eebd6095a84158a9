package relay

import (
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"

	"github.com/n0needt0/goodies/switchyard/internal/config"
	"github.com/n0needt0/goodies/switchyard/internal/domain"
)

const writeTimeout = 30 * time.Second

// pump copies src to dst until EOF, error, or an idle stretch with no
// data. Bytes are forwarded in receipt order; onData observes every
// forwarded chunk.
func (f *Frontend) pump(dst, src net.Conn, onData func(int64)) error {
	buf := f.bufPool.Get().([]byte)
	defer f.bufPool.Put(buf)

	for {
		src.SetReadDeadline(time.Now().Add(f.idleTimeout))
		n, err := src.Read(buf)
		if n > 0 {
			dst.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			onData(int64(n))
		}
		if err != nil {
			return err
		}
	}
}

// relayTCP runs both pump directions concurrently. The first direction
// to finish closes both ends so the other pump unblocks immediately.
// Returns client-to-backend and backend-to-client byte totals.
func (f *Frontend) relayTCP(client, backend net.Conn) (int64, int64) {
	var sent, received atomic.Int64
	done := make(chan struct{}, 2)

	go func() {
		f.pump(backend, client, func(n int64) {
			sent.Add(n)
			f.stats.AddBytesSent(n)
		})
		done <- struct{}{}
	}()
	go func() {
		f.pump(client, backend, func(n int64) {
			received.Add(n)
			f.stats.AddBytesReceived(n)
		})
		done <- struct{}{}
	}()

	<-done
	client.Close()
	backend.Close()
	<-done

	return sent.Load(), received.Load()
}

// serveTCP relays one admitted client connection to the default backend.
func (f *Frontend) serveTCP(client net.Conn) {
	start := time.Now()

	backend, err := f.dialBackend(f.target, f.backendNeedsTLS(f.target))
	if err != nil {
		f.stats.ConnFailed()
		log.Warnf("frontend %s: %v", f.cfg.Name, err)
		f.record(client, f.target.Server, "", 0, 0, start, domain.SessionFailed)
		return
	}
	defer backend.Close()

	sent, received := f.relayTCP(client, backend)
	f.record(client, f.target.Server, "", sent, received, start, domain.SessionOK)
}

// dialBackend opens the connection to a backend, optionally wrapped in
// TLS. Backend certificates are not verified.
func (f *Frontend) dialBackend(b config.Backend, useTLS bool) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", b.Server, f.dialTimeout)
	if err != nil {
		return nil, domain.DialError{Backend: b.Name, Err: err}
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	if useTLS {
		host, _, _ := net.SplitHostPort(b.Server)
		tlsConn, err := wrapClientTLS(conn, backendTLSConfig(host))
		if err != nil {
			return nil, domain.DialError{Backend: b.Name, Err: err}
		}
		return tlsConn, nil
	}
	return conn, nil
}

func (f *Frontend) backendNeedsTLS(b config.Backend) bool {
	return b.TLS || f.cfg.BackendSSL
}

func isClosedConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}

// remoteIP strips the port from a peer address.
func remoteIP(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
