package relay

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"

	"github.com/n0needt0/goodies/switchyard/internal/domain"
)

const tlsHandshakeTimeout = 10 * time.Second

var (
	selfSignedOnce sync.Once
	selfSignedCert tls.Certificate
	selfSignedErr  error
)

// serverTLSConfig builds the config used to terminate client-side TLS.
// With no certfile configured it falls back to one self-signed pair
// shared by every frontend for the lifetime of the process.
func serverTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	var cert tls.Certificate
	var err error

	if certFile != "" && keyFile != "" {
		cert, err = tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, domain.TLSError{Err: errors.Wrap(err, "loading key pair")}
		}
	} else {
		selfSignedOnce.Do(func() {
			selfSignedCert, selfSignedErr = generateSelfSigned()
			if selfSignedErr == nil {
				log.Infof("generated self-signed TLS certificate")
			}
		})
		if selfSignedErr != nil {
			return nil, domain.TLSError{Err: errors.Wrap(selfSignedErr, "generating certificate")}
		}
		cert = selfSignedCert
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// generateSelfSigned creates an ECDSA P-256 self-signed certificate valid
// for 10 years.
func generateSelfSigned() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "generate key")
	}

	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "generate serial")
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "switchyard"},
		NotBefore:    time.Now().Add(-1 * time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"switchyard", "localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.IPv6loopback},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "create certificate")
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "marshal key")
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "parse key pair")
	}
	return cert, nil
}

// backendTLSConfig builds the config for TLS toward a backend. Backend
// certificates are not verified; backends are trusted by address.
func backendTLSConfig(serverName string) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		ServerName:         serverName,
		MinVersion:         tls.VersionTLS12,
	}
}

// wrapServerTLS runs the server-side handshake with a deadline so a
// stalled client cannot pin the goroutine.
func wrapServerTLS(conn net.Conn, cfg *tls.Config) (net.Conn, error) {
	tlsConn := tls.Server(conn, cfg)
	tlsConn.SetDeadline(time.Now().Add(tlsHandshakeTimeout))
	if err := tlsConn.Handshake(); err != nil {
		tlsConn.Close()
		return nil, domain.TLSError{Err: err}
	}
	tlsConn.SetDeadline(time.Time{})
	return tlsConn, nil
}

// wrapClientTLS runs the client-side handshake toward a backend.
func wrapClientTLS(conn net.Conn, cfg *tls.Config) (net.Conn, error) {
	tlsConn := tls.Client(conn, cfg)
	tlsConn.SetDeadline(time.Now().Add(tlsHandshakeTimeout))
	if err := tlsConn.Handshake(); err != nil {
		tlsConn.Close()
		return nil, domain.TLSError{Err: err}
	}
	tlsConn.SetDeadline(time.Time{})
	return tlsConn, nil
}
