package relay

import (
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSniffClassification(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    streamClass
	}{
		{"tls client hello", []byte{0x16, 0x03, 0x01, 0x00}, classTLS},
		{"http get", []byte("GET / HTTP/1.1\r\n"), classHTTP},
		{"http post", []byte("POST /x HTTP/1.1\r\n"), classHTTP},
		{"http head", []byte("HEAD / HTTP/1.1\r\n"), classHTTP},
		{"http delete", []byte("DELETE / HTTP/1.1\r\n"), classHTTP},
		{"http options", []byte("OPTIONS * HTTP/1.1\r\n"), classHTTP},
		{"http trace", []byte("TRACE / HTTP/1.1\r\n"), classHTTP},
		{"http connect", []byte("CONNECT a:443 HTTP/1.1\r\n"), classHTTP},
		{"raw binary", []byte{0x00, 0x01, 0x02}, classRaw},
		{"raw text", []byte("hello"), classRaw},
		{"raw lowercase get", []byte("get / http/1.1\r\n"), classRaw},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client, server := net.Pipe()
			defer client.Close()

			go func() {
				client.Write(tc.payload)
				client.Close()
			}()

			class, wrapped, err := sniff(server, time.Second)
			require.NoError(t, err)
			assert.Equal(t, tc.want, class)

			// the peeked bytes must still come out of the wrapped conn
			data, err := io.ReadAll(wrapped)
			require.NoError(t, err)
			assert.Equal(t, tc.payload, data)
		})
	}
}

func TestSniffTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	_, _, err := sniff(server, 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, os.IsTimeout(err))
}

func TestSniffClosedPeer(t *testing.T) {
	client, server := net.Pipe()
	client.Close()

	_, _, err := sniff(server, time.Second)
	assert.Error(t, err)
}

func TestStreamClassString(t *testing.T) {
	assert.Equal(t, "tls", classTLS.String())
	assert.Equal(t, "http", classHTTP.String())
	assert.Equal(t, "raw", classRaw.String())
}
