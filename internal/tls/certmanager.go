package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/caddyserver/certmagic"
)

// ErrNoDomains is returned when HTTPS is requested without any domain.
var ErrNoDomains = errors.New("tls: no domains configured")

// Options configure automatic certificates.
type Options struct {
	Domains    []string
	Email      string
	Production bool // use the Let's Encrypt production CA instead of staging
}

// CertManager manages automatic TLS certificates via certmagic for a fixed
// set of domains.
type CertManager struct {
	domains []string
	logger  *slog.Logger
	cfg     *certmagic.Config
}

// NewCertManager creates a CertManager for the configured domains.
func NewCertManager(opts Options, logger *slog.Logger) (*CertManager, error) {
	domains := normalizeDomains(opts.Domains)
	if len(domains) == 0 {
		return nil, ErrNoDomains
	}

	certmagic.DefaultACME.Email = opts.Email
	certmagic.DefaultACME.Agreed = true
	if !opts.Production {
		certmagic.DefaultACME.CA = certmagic.LetsEncryptStagingCA
	}

	cfg := certmagic.NewDefault()
	cm := &CertManager{domains: domains, logger: logger, cfg: cfg}

	// Only the configured names may trigger issuance.
	cfg.OnDemand = &certmagic.OnDemandConfig{
		DecisionFunc: cm.allowCert,
	}
	return cm, nil
}

// allowCert is the on-demand decision function that checks whether a certificate
// should be provisioned for the given domain name.
func (cm *CertManager) allowCert(_ context.Context, name string) error {
	if !slices.Contains(cm.domains, strings.ToLower(name)) {
		return fmt.Errorf("unknown domain: %s", name)
	}
	return nil
}

// Domains returns the managed domain names.
func (cm *CertManager) Domains() []string {
	return slices.Clone(cm.domains)
}

// ListenAndServe obtains certificates for the configured domains, then
// serves srv's handler over TLS on port 443. srv.Addr is ignored.
func (cm *CertManager) ListenAndServe(ctx context.Context, srv *http.Server) error {
	cm.logger.Info("starting TLS server", "domains", cm.domains)

	// Pre-manage known domains so their certs are ready immediately
	if err := cm.cfg.ManageSync(ctx, cm.domains); err != nil {
		return fmt.Errorf("manage domains: %w", err)
	}

	tlsCfg := cm.cfg.TLSConfig()
	ln, err := tls.Listen("tcp", fmt.Sprintf(":%d", certmagic.HTTPSPort), tlsCfg)
	if err != nil {
		return fmt.Errorf("tls listen: %w", err)
	}

	cm.logger.Info("serving HTTPS", "port", certmagic.HTTPSPort)
	return srv.Serve(ln)
}

func normalizeDomains(in []string) []string {
	var out []string
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" && !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	return out
}
