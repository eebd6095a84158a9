package relay

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0needt0/goodies/switchyard/internal/config"
)

func TestHostKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Example.COM", "example.com"},
		{"example.com:8443", "example.com"},
		{"  API.Example.com:80  ", "api.example.com"},
		{"[::1]:8080", "::1"},
		{"", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, hostKey(tc.in), "hostKey(%q)", tc.in)
	}
}

func TestResolveRoute(t *testing.T) {
	api := config.Backend{Name: "api", Server: "127.0.0.1:9001"}
	web := config.Backend{Name: "web", Server: "127.0.0.1:9002"}
	fallback := config.Backend{Name: "fallback", Server: "127.0.0.1:9003"}

	f := &Frontend{
		routes: []route{
			{domain: "api.example.com", backend: api},
			{domain: "api.example.com", backend: web}, // unreachable, first match wins
			{domain: "www.example.com", backend: web},
		},
		target:     fallback,
		hasDefault: true,
	}

	got, ok := f.resolveRoute("API.example.com:443")
	require.True(t, ok)
	assert.Equal(t, "api", got.Name)

	got, ok = f.resolveRoute("www.example.com")
	require.True(t, ok)
	assert.Equal(t, "web", got.Name)

	got, ok = f.resolveRoute("unknown.example.com")
	require.True(t, ok)
	assert.Equal(t, "fallback", got.Name)

	strict := &Frontend{routes: []route{{domain: "only.example.com", backend: api}}}
	_, ok = strict.resolveRoute("unknown.example.com")
	assert.False(t, ok)
}

func TestNormalizeRequest(t *testing.T) {
	raw := "POST /submit HTTP/1.1\r\n" +
		"Host: api.example.com\r\n" +
		"Content-Length: 11\r\n" +
		"Accept-Encoding: gzip, br\r\n" +
		"Connection: keep-alive\r\n" +
		"\r\n" +
		"hello world"

	req, err := http.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)

	require.NoError(t, normalizeRequest(req))

	assert.Equal(t, int64(11), req.ContentLength)
	assert.Empty(t, req.Header.Get("Content-Length"))
	assert.Equal(t, "close", req.Header.Get("Connection"))
	assert.Equal(t, "identity", req.Header.Get("Accept-Encoding"))
	assert.True(t, req.Close)

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(body))
}

func TestSynthesize(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		synthesize(server, http.StatusTooManyRequests, "too many requests")
		server.Close()
	}()

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "close", resp.Header.Get("Connection"))
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "too many requests\n", string(body))
}

func TestCountingConn(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	cc := &countingConn{Conn: a}

	go func() {
		buf := make([]byte, 16)
		n, _ := b.Read(buf)
		b.Write(buf[:n])
	}()

	_, err := cc.Write([]byte("12345"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	_, err = io.ReadFull(cc, buf)
	require.NoError(t, err)

	assert.Equal(t, int64(5), cc.wrote)
	assert.Equal(t, int64(5), cc.read)
}
