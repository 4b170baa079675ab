package security

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"net/url"
	"time"
)

// dialTimeout bounds the TLS handshake used to read the certificate.
const dialTimeout = 10 * time.Second

// expiringWithin is the window in which a valid certificate is reported as
// expiring.
const expiringWithin = 30 * 24 * time.Hour

// Certificate status values.
const (
	StatusValid       = "valid"
	StatusExpiring    = "expiring"
	StatusExpired     = "expired"
	StatusUnreachable = "unreachable"
)

// CertStatus describes the leaf certificate served at an endpoint.
type CertStatus struct {
	Endpoint  string
	Status    string
	DaysLeft  int
	Issuer    string
	NotAfter  time.Time
	CheckedAt time.Time
}

// Check dials the TLS endpoint behind baseURL and returns a CertStatus for
// the leaf certificate. It returns nil for non-HTTPS URLs.
func Check(ctx context.Context, baseURL string, insecureSkipVerify bool) *CertStatus {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme != "https" {
		return nil
	}

	now := time.Now()
	cs := &CertStatus{Endpoint: baseURL, CheckedAt: now}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: insecureSkipVerify, //nolint:gosec
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
	cs.Status = classify(left)
	return cs
}

func classify(left time.Duration) string {
	switch {
	case left <= 0:
		return StatusExpired
	case left <= expiringWithin:
		return StatusExpiring
	default:
		return StatusValid
	}
}
