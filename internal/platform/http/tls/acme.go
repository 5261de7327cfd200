package tls

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	cryptotls "crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/nickelsh1ts/streamarr/internal/platform/config"
	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
)

const (
	acmeAccountFile = "account.json"
	acmeAccountKey  = "account.key"
	acmeCertFile    = "cert.pem"
	acmeKeyFile     = "key.pem"

	// challengeTTL bounds how long a presented HTTP-01 token is served.
	challengeTTL = 10 * time.Minute

	// renewBefore is how close to expiry a certificate is replaced.
	renewBefore = 30 * 24 * time.Hour

	renewCheckInterval = 12 * time.Hour
)

// acmeUser implements lego's registration.User.
type acmeUser struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration"`
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.Email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.Registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

type tokenEntry struct {
	keyAuth   string
	expiresAt time.Time
}

// HTTP01Provider serves HTTP-01 challenges from memory so the server
// keeps ownership of port 80.
type HTTP01Provider struct {
	tokens sync.Map // token -> tokenEntry
	now    func() time.Time
}

func (p *HTTP01Provider) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func (p *HTTP01Provider) Present(domain, token, keyAuth string) error {
	p.tokens.Store(token, tokenEntry{keyAuth: keyAuth, expiresAt: p.clock().Add(challengeTTL)})
	return nil
}

func (p *HTTP01Provider) CleanUp(domain, token, keyAuth string) error {
	p.tokens.Delete(token)
	return nil
}

func (p *HTTP01Provider) lookup(token string) (string, bool) {
	v, ok := p.tokens.Load(token)
	if !ok {
		return "", false
	}
	e := v.(tokenEntry)
	if !p.clock().Before(e.expiresAt) {
		p.tokens.Delete(token)
		return "", false
	}
	return e.keyAuth, true
}

// ACMEManager obtains and renews the server certificate with lego.
type ACMEManager struct {
	cfg        *config.ACMEConfig
	log        *slog.Logger
	httpClient *http.Client
	provider   *HTTP01Provider

	mu     sync.RWMutex
	cert   *cryptotls.Certificate
	expiry time.Time

	clientMu   sync.Mutex
	legoClient *lego.Client
}

// NewACMEManager creates a manager. httpClient is used to talk to the
// ACME directory; nil uses lego's default client.
func NewACMEManager(cfg *config.ACMEConfig, log *slog.Logger, httpClient *http.Client) *ACMEManager {
	return &ACMEManager{
		cfg:        cfg,
		log:        logutil.NoopIfNil(log),
		httpClient: httpClient,
		provider:   &HTTP01Provider{},
	}
}

// Init loads a stored certificate or obtains a new one. A stored
// certificate that is still fresh costs no network calls.
func (m *ACMEManager) Init(ctx context.Context) error {
	if m.cfg.Domain == "" {
		return errors.New("ACME domain is required")
	}
	if m.cfg.Email == "" {
		return errors.New("ACME email is required")
	}
	if err := os.MkdirAll(m.cfg.StorageDir, 0700); err != nil {
		return fmt.Errorf("failed to create ACME storage dir: %w", err)
	}

	if cert, leaf, err := m.loadCertificate(); err == nil {
		m.setCertificate(cert, leaf.NotAfter)
		if time.Until(leaf.NotAfter) > renewBefore {
			m.log.Info("loaded existing ACME certificate", "domain", m.cfg.Domain, "expires", leaf.NotAfter)
			return nil
		}
		m.log.Info("stored ACME certificate near expiry", "domain", m.cfg.Domain, "expires", leaf.NotAfter)
	}

	return m.obtain(ctx)
}

// Run re-checks the certificate periodically and renews it before it
// expires. Blocks until ctx is done.
func (m *ACMEManager) Run(ctx context.Context) {
	ticker := time.NewTicker(renewCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.needsRenewal(time.Now()) {
				continue
			}
			if err := m.obtain(ctx); err != nil {
				m.log.Error("ACME renewal failed", "domain", m.cfg.Domain, "error", err)
			}
		}
	}
}

func (m *ACMEManager) needsRenewal(now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cert == nil || m.expiry.Sub(now) <= renewBefore
}

// GetCertificate is the tls.Config hook.
func (m *ACMEManager) GetCertificate(*cryptotls.ClientHelloInfo) (*cryptotls.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cert == nil {
		return nil, errors.New("no certificate available")
	}
	return m.cert, nil
}

// TLSConfig returns a listener config backed by the managed certificate.
func (m *ACMEManager) TLSConfig() *cryptotls.Config {
	return &cryptotls.Config{
		GetCertificate: m.GetCertificate,
		MinVersion:     cryptotls.VersionTLS12,
	}
}

// ChallengeHandler answers /.well-known/acme-challenge/{token}.
func (m *ACMEManager) ChallengeHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "/.well-known/acme-challenge/"
		token, ok := strings.CutPrefix(r.URL.Path, prefix)
		if !ok || token == "" || m.provider == nil {
			http.NotFound(w, r)
			return
		}
		keyAuth, ok := m.provider.lookup(token)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, keyAuth)
	})
}

func (m *ACMEManager) setCertificate(cert *cryptotls.Certificate, expiry time.Time) {
	m.mu.Lock()
	m.cert = cert
	m.expiry = expiry
	m.mu.Unlock()
}

func (m *ACMEManager) client() (*lego.Client, error) {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	if m.legoClient != nil {
		return m.legoClient, nil
	}

	user, err := m.loadOrCreateUser()
	if err != nil {
		return nil, fmt.Errorf("failed to load ACME account: %w", err)
	}

	legoCfg := lego.NewConfig(user)
	legoCfg.CADirURL = m.cfg.Directory
	if m.cfg.UseStaging {
		legoCfg.CADirURL = lego.LEDirectoryStaging
	}
	if legoCfg.CADirURL == "" {
		legoCfg.CADirURL = lego.LEDirectoryProduction
	}
	legoCfg.Certificate.KeyType = certcrypto.EC256
	if m.httpClient != nil {
		legoCfg.HTTPClient = m.httpClient
	}

	c, err := lego.NewClient(legoCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create ACME client: %w", err)
	}
	if err := c.Challenge.SetHTTP01Provider(m.provider); err != nil {
		return nil, fmt.Errorf("failed to set HTTP-01 provider: %w", err)
	}

	if user.Registration == nil {
		reg, err := c.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, fmt.Errorf("failed to register ACME account: %w", err)
		}
		user.Registration = reg
		if err := m.saveUser(user); err != nil {
			m.log.Warn("failed to save ACME account", "error", err)
		}
	}

	m.legoClient = c
	return c, nil
}

func (m *ACMEManager) obtain(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := m.client()
	if err != nil {
		return err
	}

	m.log.Info("obtaining ACME certificate", "domain", m.cfg.Domain)
	res, err := c.Certificate.Obtain(certificate.ObtainRequest{
		Domains: []string{m.cfg.Domain},
		Bundle:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to obtain certificate: %w", err)
	}

	certFile := filepath.Join(m.cfg.StorageDir, acmeCertFile)
	keyFile := filepath.Join(m.cfg.StorageDir, acmeKeyFile)
	if err := os.WriteFile(certFile, res.Certificate, 0644); err != nil {
		return fmt.Errorf("failed to save certificate: %w", err)
	}
	if err := os.WriteFile(keyFile, res.PrivateKey, 0600); err != nil {
		return fmt.Errorf("failed to save key: %w", err)
	}

	cert, err := cryptotls.X509KeyPair(res.Certificate, res.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}
	m.setCertificate(&cert, leaf.NotAfter)
	m.log.Info("saved ACME certificate", "domain", m.cfg.Domain, "expires", leaf.NotAfter)
	return nil
}

func (m *ACMEManager) loadCertificate() (*cryptotls.Certificate, *x509.Certificate, error) {
	cert, err := cryptotls.LoadX509KeyPair(
		filepath.Join(m.cfg.StorageDir, acmeCertFile),
		filepath.Join(m.cfg.StorageDir, acmeKeyFile),
	)
	if err != nil {
		return nil, nil, err
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, nil, err
	}
	return &cert, leaf, nil
}

func (m *ACMEManager) loadOrCreateUser() (*acmeUser, error) {
	userData, uerr := os.ReadFile(filepath.Join(m.cfg.StorageDir, acmeAccountFile))
	keyData, kerr := os.ReadFile(filepath.Join(m.cfg.StorageDir, acmeAccountKey))
	if uerr == nil && kerr == nil {
		user := &acmeUser{}
		if err := json.Unmarshal(userData, user); err == nil {
			if key, err := certcrypto.ParsePEMPrivateKey(keyData); err == nil {
				user.key = key
				return user, nil
			}
		}
		m.log.Warn("stored ACME account unreadable, creating a new one")
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate account key: %w", err)
	}
	return &acmeUser{Email: m.cfg.Email, key: key}, nil
}

func (m *ACMEManager) saveUser(user *acmeUser) error {
	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(m.cfg.StorageDir, acmeAccountFile), data, 0600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.cfg.StorageDir, acmeAccountKey), certcrypto.PEMEncode(user.key), 0600)
}
