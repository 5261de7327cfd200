// Package tls provides the server certificate for the static, selfsigned
// and acme TLS modes.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	cryptotls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/nickelsh1ts/streamarr/internal/platform/config"
	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
)

var (
	ErrInvalidTLSMode = errors.New("invalid TLS mode")
	ErrMissingCert    = errors.New("missing certificate or key file")
)

const (
	selfSignedCert = "server.crt"
	selfSignedKey  = "server.key"

	selfSignedLifetime = 365 * 24 * time.Hour
	// Self-signed certificates closer than this to expiry are regenerated.
	selfSignedRenewBefore = 14 * 24 * time.Hour
)

// ServerConfig builds the listener TLS config for the static and
// selfsigned modes. Mode "off" yields nil. ACME certificates come from
// ACMEManager instead.
func ServerConfig(cfg *config.TLSConfig, hostname string, log *slog.Logger) (*cryptotls.Config, error) {
	log = logutil.NoopIfNil(log)

	var (
		cert cryptotls.Certificate
		err  error
	)
	switch cfg.Mode {
	case "off":
		return nil, nil
	case "static":
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, ErrMissingCert
		}
		cert, err = cryptotls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate: %w", err)
		}
		log.Info("loaded static TLS certificate", "cert_file", cfg.CertFile)
	case "selfsigned":
		cert, err = loadOrCreateSelfSigned(cfg.SelfSignedDir, hostname, time.Now(), log)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidTLSMode, cfg.Mode)
	}

	return &cryptotls.Config{
		Certificates: []cryptotls.Certificate{cert},
		MinVersion:   cryptotls.VersionTLS12,
	}, nil
}

// Hostname returns the host part of a public origin, defaulting to
// localhost when the origin is unset.
func Hostname(publicOrigin string) (string, error) {
	if publicOrigin == "" {
		return "localhost", nil
	}
	u, err := url.Parse(publicOrigin)
	if err != nil {
		return "", fmt.Errorf("parse public_origin: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("public_origin %q has no host", publicOrigin)
	}
	return u.Hostname(), nil
}

func loadOrCreateSelfSigned(dir, hostname string, now time.Time, log *slog.Logger) (cryptotls.Certificate, error) {
	if dir == "" {
		return cryptotls.Certificate{}, errors.New("tls.self_signed_dir is not set")
	}
	certFile := filepath.Join(dir, selfSignedCert)
	keyFile := filepath.Join(dir, selfSignedKey)

	if cert, err := cryptotls.LoadX509KeyPair(certFile, keyFile); err == nil {
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil && now.Add(selfSignedRenewBefore).Before(leaf.NotAfter) {
			log.Info("loaded existing self-signed certificate", "cert_file", certFile, "expires", leaf.NotAfter)
			return cert, nil
		}
		log.Info("self-signed certificate near expiry, regenerating", "cert_file", certFile)
	}

	certPEM, keyPEM, notAfter, err := generateSelfSigned(hostname, now)
	if err != nil {
		return cryptotls.Certificate{}, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("failed to create cert directory: %w", err)
	}
	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0600); err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("failed to write key: %w", err)
	}
	log.Info("generated self-signed certificate", "hostname", hostname, "cert_file", certFile, "expires", notAfter)

	return cryptotls.X509KeyPair(certPEM, keyPEM)
}

func generateSelfSigned(hostname string, now time.Time) (certPEM, keyPEM []byte, notAfter time.Time, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("failed to generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("failed to generate serial: %w", err)
	}

	tmpl := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Streamarr"},
			CommonName:   hostname,
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(selfSignedLifetime),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	if ip := net.ParseIP(hostname); ip != nil {
		tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
	} else if hostname != "localhost" {
		tmpl.DNSNames = append(tmpl.DNSNames, hostname)
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("failed to marshal key: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, tmpl.NotAfter, nil
}
