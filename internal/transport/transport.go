package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// DefaultTimeout bounds a single request when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of a failed response is kept in StatusError.
const maxErrorBody = 512

// Options configures the HTTP client used to reach the collector.
type Options struct {
	// Timeout bounds each request. Zero selects DefaultTimeout.
	Timeout time.Duration

	Auth Auth

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
}

// Auth selects how requests authenticate to the collector.
type Auth struct {
	// Mode is one of: apikey | bearer | basic | mtls | none.
	Mode string

	// Header carries the API key when Mode == "apikey".
	Header string
	// KeyEnv names the environment variable holding the API key.
	KeyEnv string

	// TokenEnv names the environment variable holding the bearer token.
	TokenEnv string

	Username    string
	PasswordEnv string

	CertFile string
	KeyFile  string
	CAFile   string
}

func fromEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// StatusError reports a response outside the 2xx range.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Code)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// HTTP sends JSON requests with a preconfigured *http.Client.
// It is safe for concurrent use.
type HTTP struct {
	client *http.Client
}

// New builds an HTTP transport for opts.
func New(opts Options) (*HTTP, error) {
	client, err := buildHTTPClient(opts)
	if err != nil {
		return nil, fmt.Errorf("transport: build http client: %w", err)
	}
	return &HTTP{client: client}, nil
}

// Default returns a transport with no authentication and DefaultTimeout.
func Default() *HTTP {
	return &HTTP{client: &http.Client{Timeout: DefaultTimeout}}
}

// WithClient wraps an existing client, typically an httptest server's.
func WithClient(c *http.Client) *HTTP {
	return &HTTP{client: c}
}

// Do sends body (JSON-encoded when non-nil) to url and decodes a successful
// response into out when out is non-nil.
func (t *HTTP) Do(ctx context.Context, method, url string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("http %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method: method,
			URL:    url,
			Code:   resp.StatusCode,
			Body:   string(bytes.TrimSpace(snippet)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth Auth
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, fromEnv(t.auth.KeyEnv))
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+fromEnv(t.auth.TokenEnv))
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, fromEnv(t.auth.PasswordEnv))
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the auth and TLS settings.
func buildHTTPClient(opts Options) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if opts.Auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(opts.Auth.CertFile, opts.Auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}

		if opts.Auth.CAFile != "" {
			caPEM, err := os.ReadFile(opts.Auth.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("no valid certs found in ca file %q", opts.Auth.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: tlsCfg},
			auth: opts.Auth,
		},
		Timeout: timeout,
	}, nil
}
