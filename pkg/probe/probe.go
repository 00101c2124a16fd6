package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Result represents the outcome of an endpoint probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface endpoint probes implement
type Checker interface {
	Check(ctx context.Context) Result
}

// HTTPChecker probes an HTTP endpoint, typically an out-of-process
// stage. Any response below 500 counts as reachable: external stages
// answer 4xx/405 to a bare GET while still serving the stage contract
// on POST.
type HTTPChecker struct {
	// URL is the full HTTP URL to probe
	URL string

	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client
}

// NewHTTPChecker creates a new HTTP endpoint probe
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL: url,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Check performs the HTTP probe
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("failed to create request: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("endpoint unreachable: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("endpoint returned %d", resp.StatusCode),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("endpoint answered %d", resp.StatusCode),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// TCPChecker probes a TCP address, typically a storage backend.
type TCPChecker struct {
	// Address is the TCP address to connect to (e.g., "db-host:5432")
	Address string

	// Timeout is the connection timeout (default: 5 seconds)
	Timeout time.Duration
}

// NewTCPChecker creates a new TCP endpoint probe
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{
		Address: address,
		Timeout: 5 * time.Second,
	}
}

// AddressFromURL extracts a dialable host:port from a URL-shaped
// endpoint such as a postgres DSN or a redis URL. When the port is
// omitted the scheme's default is filled in; endpoints without a
// network host (embedded backends, key=value DSNs) are rejected.
func AddressFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.Port() != "" {
		return u.Host, true
	}
	switch u.Scheme {
	case "postgres", "postgresql":
		return net.JoinHostPort(u.Hostname(), "5432"), true
	case "redis", "rediss":
		return net.JoinHostPort(u.Hostname(), "6379"), true
	}
	return "", false
}

// Check performs the TCP probe
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("connection failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("TCP connection to %s successful", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
