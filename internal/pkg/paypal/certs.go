package paypal

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/hashicorp/go-retryablehttp"
	gocache "github.com/patrickmn/go-cache"
)

const maxCertBytes = 64 << 10

// CertFetcher returns the verified signing certificate behind a
// PAYPAL-CERT-URL header.
type CertFetcher interface {
	Fetch(ctx context.Context, certURL string) (*x509.Certificate, error)
}

type CertStoreConfig struct {
	// AllowedHosts lists the hosts a cert URL may point to.
	AllowedHosts []string
	// RootsFile is an optional PEM bundle replacing the system roots.
	RootsFile string
	// Name is the DNS name the leaf certificate must be valid for.
	Name string
	// HTTPClient overrides the download client.
	HTTPClient *http.Client
}

// CertStore downloads, verifies and caches PayPal signing certificates.
type CertStore struct {
	hosts  map[string]struct{}
	roots  *x509.CertPool
	name   string
	client *http.Client
	cache  *gocache.Cache
	now    func() time.Time
}

func NewCertStore(cfg CertStoreConfig) (*CertStore, error) {
	if len(cfg.AllowedHosts) == 0 {
		return nil, fmt.Errorf("%w: no allowed hosts configured", ErrInvalidCertURL)
	}
	hosts := make(map[string]struct{}, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		hosts[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}

	roots, err := loadRoots(cfg.RootsFile)
	if err != nil {
		return nil, err
	}

	client := cfg.HTTPClient
	if client == nil {
		rc := retryablehttp.NewClient()
		rc.RetryMax = 1
		rc.HTTPClient.Timeout = 15 * time.Second
		rc.Logger = retryLogger{}
		client = rc.StandardClient()
	}

	return &CertStore{
		hosts:  hosts,
		roots:  roots,
		name:   cfg.Name,
		client: client,
		cache:  gocache.New(gocache.NoExpiration, 10*time.Minute),
		now:    time.Now,
	}, nil
}

func loadRoots(path string) (*x509.CertPool, error) {
	if strings.TrimSpace(path) == "" {
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("load system roots: %w", err)
		}
		return pool, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cert roots: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("read cert roots: no certificates in %s", path)
	}
	return pool, nil
}

// ValidateCertURL rejects anything but https URLs on an allowed host.
func (s *CertStore) ValidateCertURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertURL, err)
	}
	if u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidCertURL, u.Scheme)
	}
	if u.User != nil {
		return nil, fmt.Errorf("%w: credentials in url", ErrInvalidCertURL)
	}
	if _, ok := s.hosts[strings.ToLower(u.Hostname())]; !ok {
		return nil, fmt.Errorf("%w: host %q", ErrInvalidCertURL, u.Hostname())
	}
	return u, nil
}

func (s *CertStore) Fetch(ctx context.Context, certURL string) (*x509.Certificate, error) {
	u, err := s.ValidateCertURL(certURL)
	if err != nil {
		return nil, err
	}
	key := u.String()

	if cached, ok := s.cache.Get(key); ok {
		return cached.(*x509.Certificate), nil
	}

	chain, err := s.download(ctx, key)
	if err != nil {
		return nil, err
	}
	leaf, err := s.verifyChain(chain)
	if err != nil {
		return nil, err
	}

	ttl := leaf.NotAfter.Sub(s.now())
	if ttl > 0 {
		s.cache.Set(key, leaf, ttl)
	}
	log.Debugf("[PayPal] cached signing cert %s until %s", key, leaf.NotAfter.Format(time.RFC3339))
	return leaf, nil
}

func (s *CertStore) download(ctx context.Context, certURL string) ([]*x509.Certificate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download cert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download cert: status=%d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCertBytes))
	if err != nil {
		return nil, fmt.Errorf("download cert: %w", err)
	}

	var chain []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCertUntrusted, err)
		}
		chain = append(chain, cert)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: no certificate in response", ErrCertUntrusted)
	}
	return chain, nil
}

// verifyChain checks the leaf (first cert) against the pinned roots, using
// the rest of the chain as intermediates.
func (s *CertStore) verifyChain(chain []*x509.Certificate) (*x509.Certificate, error) {
	leaf := chain[0]
	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}

	_, err := leaf.Verify(x509.VerifyOptions{
		DNSName:       s.name,
		Roots:         s.roots,
		Intermediates: intermediates,
		CurrentTime:   s.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertUntrusted, err)
	}
	if _, ok := leaf.PublicKey.(*rsa.PublicKey); !ok {
		return nil, fmt.Errorf("%w: leaf key is not RSA", ErrCertUntrusted)
	}
	return leaf, nil
}
