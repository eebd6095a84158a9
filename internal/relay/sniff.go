package relay

import (
	"bufio"
	"net"
	"time"
)

type streamClass int

const (
	classRaw streamClass = iota
	classTLS
	classHTTP
)

func (c streamClass) String() string {
	switch c {
	case classTLS:
		return "tls"
	case classHTTP:
		return "http"
	default:
		return "raw"
	}
}

// 0x16 is the TLS handshake record type, the first byte of a ClientHello.
const tlsHandshakeByte = 0x16

// Initials of the HTTP/1.x methods: GET, POST, PUT, PATCH, HEAD, DELETE,
// OPTIONS, TRACE, CONNECT.
var httpMethodInitials = [256]bool{
	'G': true,
	'P': true,
	'H': true,
	'D': true,
	'O': true,
	'T': true,
	'C': true,
}

// bufConn carries the bytes buffered while sniffing so the downstream
// relay sees the stream from its true first byte.
type bufConn struct {
	r *bufio.Reader
	net.Conn
}

func (c *bufConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// sniff peeks the first byte of the stream and classifies it without
// consuming anything. The returned conn replaces the original for all
// further reads; a client that sends nothing within the timeout is an
// error, not a raw stream.
func sniff(conn net.Conn, timeout time.Duration) (streamClass, net.Conn, error) {
	r := bufio.NewReader(conn)

	conn.SetReadDeadline(time.Now().Add(timeout))
	first, err := r.Peek(1)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		return classRaw, nil, err
	}

	wrapped := &bufConn{r: r, Conn: conn}
	switch {
	case first[0] == tlsHandshakeByte:
		return classTLS, wrapped, nil
	case httpMethodInitials[first[0]]:
		return classHTTP, wrapped, nil
	default:
		return classRaw, wrapped, nil
	}
}
