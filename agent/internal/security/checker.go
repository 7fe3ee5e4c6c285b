package security

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"net/url"
	"time"

	"github.com/zita-photo/zita/agent/internal/config"
)

// ExpiryWarning is how close to NotAfter a certificate counts as expiring.
const ExpiryWarning = 30 * 24 * time.Hour

// Certificate states reported by Check.
const (
	StatusValid       = "valid"
	StatusExpiring    = "expiring"
	StatusExpired     = "expired"
	StatusUnreachable = "unreachable"
)

// CertStatus describes the leaf certificate presented by the server.
type CertStatus struct {
	Endpoint string
	AuthType string
	Status   string
	Issuer   string
	NotAfter time.Time
	DaysLeft int
}

// Check dials the server's TLS endpoint and returns a CertStatus describing
// the leaf certificate.
//
// Returns nil for plain-HTTP server URLs. The dial is bounded by cfg.Timeout
// so an unreachable server does not stall startup.
func Check(ctx context.Context, cfg config.AgentConfig, now time.Time) *CertStatus {
	u, err := url.Parse(cfg.ServerURL)
	if err != nil || u.Scheme != "https" {
		return nil
	}

	cs := &CertStatus{
		Endpoint: cfg.ServerURL,
		AuthType: cfg.Auth.Mode,
	}
	if cs.AuthType == "" {
		cs.AuthType = "none"
	}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec
		},
	}

	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		cs.Status = StatusUnreachable
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		cs.Status = StatusUnreachable
		return cs
	}

	leaf := peerCerts[0]
	left := leaf.NotAfter.Sub(now)
	cs.NotAfter = leaf.NotAfter.UTC()
	cs.Issuer = leaf.Issuer.CommonName
	cs.DaysLeft = int(math.Floor(left.Hours() / 24))

	switch {
	case left <= 0:
		cs.Status = StatusExpired
	case left <= ExpiryWarning:
		cs.Status = StatusExpiring
	default:
		cs.Status = StatusValid
	}
	return cs
}
