package source

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"net/url"
	"time"

	"github.com/reportkit/reportkit/internal/config"
)

// certDialTimeout bounds one certificate check.
const certDialTimeout = 10 * time.Second

// CertStatus describes the leaf certificate served by a source endpoint.
type CertStatus struct {
	Endpoint string `json:"endpoint"`
	AuthType string `json:"auth_type"`
	// Status is "valid" | "expiring" | "expired" | "unreachable".
	Status   string `json:"status"`
	DaysLeft int    `json:"days_left"`
	Issuer   string `json:"issuer,omitempty"`
	NotAfter string `json:"not_after,omitempty"` // RFC3339
}

// CheckCert dials the source's TLS endpoint and inspects the leaf
// certificate. It returns nil for sources without an https endpoint.
func CheckCert(ctx context.Context, src config.Source) *CertStatus {
	u, err := url.Parse(src.Endpoint)
	if err != nil || u.Scheme != "https" {
		return nil
	}

	cs := &CertStatus{Endpoint: src.Endpoint, AuthType: src.Auth.Mode}
	if cs.AuthType == "" {
		cs.AuthType = "none"
	}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, certDialTimeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: src.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
		},
	}
	conn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		cs.Status = "unreachable"
		return cs
	}
	defer conn.Close()

	peers := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(peers) == 0 {
		cs.Status = "unreachable"
		return cs
	}
	leaf := peers[0]
	cs.NotAfter = leaf.NotAfter.UTC().Format(time.RFC3339)
	cs.Issuer = leaf.Issuer.CommonName
	cs.Status, cs.DaysLeft = certState(leaf.NotAfter, time.Now())
	return cs
}

// certState classifies a certificate by the whole days left before notAfter.
func certState(notAfter, now time.Time) (string, int) {
	days := notAfter.Sub(now).Hours() / 24
	left := int(math.Floor(days))
	switch {
	case days <= 0:
		return "expired", left
	case days <= 30:
		return "expiring", left
	default:
		return "valid", left
	}
}
