package source

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/reportkit/reportkit/internal/config"
	"github.com/reportkit/reportkit/pkg/types"
)

// maxBody caps how much of a response is read.
const maxBody = 64 << 20

// Source produces one batch of records per call.
type Source interface {
	Fetch(ctx context.Context) (types.Batch, error)
}

// New returns the Source for src. The HTTP client is built once and reused
// across Fetch calls.
func New(src config.Source) (Source, error) {
	var client *http.Client
	if src.Endpoint != "" {
		c, err := buildHTTPClient(src)
		if err != nil {
			return nil, fmt.Errorf("source: build http client: %w", err)
		}
		client = c
	}

	switch src.Type {
	case "json":
		cols, err := compileColumns(src.Columns)
		if err != nil {
			return nil, err
		}
		records, err := compilePath(src.Records)
		if err != nil {
			return nil, fmt.Errorf("source: records: %w", err)
		}
		return &jsonSource{src: src, client: client, records: records, cols: cols}, nil
	case "html":
		cols, err := compileColumns(src.Columns)
		if err != nil {
			return nil, err
		}
		records, err := compilePath(src.Records)
		if err != nil {
			return nil, fmt.Errorf("source: records: %w", err)
		}
		return &htmlSource{src: src, client: client, records: records, cols: cols}, nil
	case "prometheus":
		return &promSource{src: src, client: client}, nil
	case "csv":
		return &csvSource{src: src, client: client}, nil
	default:
		return nil, fmt.Errorf("source: unsupported type %q", src.Type)
	}
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		header := t.auth.Header
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the source's auth and TLS
// settings. There is no retry: a failed request fails the fetch.
func buildHTTPClient(src config.Source) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: src.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if src.Auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(src.Auth.CertFile, src.Auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}

		if src.Auth.CAFile != "" {
			caPEM, err := os.ReadFile(src.Auth.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("no valid certs found in ca file %q", src.Auth.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
	}

	timeout := src.Timeout
	if timeout <= 0 {
		timeout = config.DefaultSourceTimeout
	}
	return &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: tlsCfg},
			auth: src.Auth,
		},
		Timeout: timeout,
	}, nil
}

// get performs an HTTP GET and returns the body of a 200 response.
func get(ctx context.Context, client *http.Client, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBody))
}

// normalize turns decoded JSON values into something every SQL driver
// accepts: integral numbers become int64, other numbers float64, and nested
// objects or arrays are stored as their JSON text.
func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return v
	}
}
