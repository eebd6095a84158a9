package relay

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/n0needt0/go-goodies/log"

	"github.com/n0needt0/goodies/switchyard/internal/config"
	"github.com/n0needt0/goodies/switchyard/internal/domain"
)

// route is one ordered Host-to-backend mapping.
type route struct {
	domain  string
	backend config.Backend
}

// hostKey canonicalizes a Host header value: lowercase, port stripped.
func hostKey(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// resolveRoute picks the backend for a Host value: first matching
// domain route in configured order, then the default backend.
func (f *Frontend) resolveRoute(host string) (config.Backend, bool) {
	key := hostKey(host)
	for _, r := range f.routes {
		if r.domain == key {
			return r.backend, true
		}
	}
	if f.hasDefault {
		return f.target, true
	}
	return config.Backend{}, false
}

// serveHTTP handles one request on an admitted connection. Connections
// are single-exchange; both sides get Connection: close.
func (f *Frontend) serveHTTP(client net.Conn) {
	start := time.Now()

	client.SetReadDeadline(time.Now().Add(f.idleTimeout))
	req, err := http.ReadRequest(bufio.NewReader(client))
	if err != nil {
		f.stats.RequestFailed()
		synthesize(client, http.StatusBadRequest, "malformed request")
		return
	}
	client.SetReadDeadline(time.Time{})

	f.handleRequest(client, req, start)
}

func (f *Frontend) handleRequest(client net.Conn, req *http.Request, start time.Time) {
	host := hostKey(req.Host)

	backend, ok := f.resolveRoute(req.Host)
	if !ok {
		f.stats.RequestFailed()
		log.Warnf("frontend %s: no route for host %q", f.cfg.Name, req.Host)
		synthesize(client, http.StatusBadGateway, "no route for host")
		return
	}

	if err := normalizeRequest(req); err != nil {
		f.stats.RequestFailed()
		synthesize(client, http.StatusBadRequest, "unreadable request body")
		return
	}

	bconn, err := f.dialBackend(backend, f.backendNeedsTLS(backend))
	if err != nil {
		f.stats.RequestFailed()
		log.Warnf("frontend %s: %v", f.cfg.Name, err)
		synthesize(client, http.StatusBadGateway, "backend unavailable")
		f.record(client, backend.Server, host, 0, 0, start, domain.SessionFailed)
		return
	}
	defer bconn.Close()
	cc := &countingConn{Conn: bconn}

	cc.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := req.Write(cc); err != nil {
		f.stats.RequestFailed()
		log.Warnf("frontend %s: forwarding request to %s: %v", f.cfg.Name, backend.Server, err)
		synthesize(client, http.StatusBadGateway, "backend write failed")
		f.record(client, backend.Server, host, cc.wrote, cc.read, start, domain.SessionFailed)
		return
	}

	cc.SetReadDeadline(time.Now().Add(f.idleTimeout))
	resp, err := http.ReadResponse(bufio.NewReader(cc), req)
	if err != nil {
		f.stats.RequestFailed()
		log.Warnf("frontend %s: reading response from %s: %v", f.cfg.Name, backend.Server, err)
		synthesize(client, http.StatusBadGateway, "backend response failed")
		f.record(client, backend.Server, host, cc.wrote, cc.read, start, domain.SessionFailed)
		return
	}
	defer resp.Body.Close()

	resp.Close = true
	resp.Header.Set("Connection", "close")

	client.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := resp.Write(client); err != nil {
		f.stats.RequestFailed()
		f.record(client, backend.Server, host, cc.wrote, cc.read, start, domain.SessionFailed)
		return
	}

	f.stats.RequestDone(host, cc.wrote, cc.read, time.Since(start))
	f.record(client, backend.Server, host, cc.wrote, cc.read, start, domain.SessionOK)
}

// normalizeRequest rewrites the request for single-shot forwarding:
// Connection: close toward the backend, no compression negotiation, and
// Content-Length recomputed from the body actually read rather than the
// client's declared value.
func normalizeRequest(req *http.Request) error {
	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return err
	}

	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	req.Header.Del("Content-Length")
	req.Header.Set("Connection", "close")
	req.Header.Set("Accept-Encoding", "identity")
	req.Close = true
	return nil
}

// synthesize answers the client directly, without any backend contact.
func synthesize(conn net.Conn, code int, msg string) {
	body := msg + "\n"
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\nContent-Type: text/plain\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		code, http.StatusText(code), len(body), body)
}

// countingConn tallies bytes moved over the backend connection. Request
// and response phases run sequentially, so plain fields suffice.
type countingConn struct {
	net.Conn
	wrote int64
	read  int64
}

func (c *countingConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	c.wrote += int64(n)
	return n, err
}

func (c *countingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.read += int64(n)
	return n, err
}
