package endpoints

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"
)

// SSRF client limits.
const (
	maxResponseBytes = 64 * 1024
	requestBudget    = 10 * time.Second
)

// ErrBlockedHost marks a URL whose resolved address is private,
// loopback, link-local, or multicast. It maps to SSRF_BLOCKED at the
// API boundary.
var ErrBlockedHost = errors.New("host resolves to a blocked address range")

// SafeClient is an HTTP client for agent-supplied origins. It rejects
// non-http(s) schemes and re-checks every dialed address at connect
// time, so a DNS answer that changes between resolve and dial still
// cannot reach internal ranges.
type SafeClient struct {
	http           *http.Client
	allowLoopback  bool // test flag, refused in production at boot
	allowTestPorts bool
}

// NewSafeClient builds the client. The allow flags exist for the test
// suite only; config refuses them in production.
func NewSafeClient(allowLoopback, allowTestPorts bool) *SafeClient {
	c := &SafeClient{allowLoopback: allowLoopback, allowTestPorts: allowTestPorts}

	dialer := &net.Dialer{
		Timeout: 5 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			ip := net.ParseIP(host)
			if ip == nil {
				return fmt.Errorf("dial %s: unresolved host reached control", address)
			}
			if c.blockedIP(ip) {
				return ErrBlockedHost
			}
			return nil
		},
	}

	c.http = &http.Client{
		Timeout: requestBudget,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			MaxIdleConns:          16,
			IdleConnTimeout:       30 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: 5 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return errors.New("too many redirects")
			}
			// Redirect targets go through the same checks.
			return c.checkURL(req.URL)
		},
	}
	return c
}

// Do validates the URL, resolves the host ahead of connecting, and
// performs the request with the response body capped.
func (c *SafeClient) Do(ctx context.Context, req *http.Request) ([]byte, int, error) {
	if err := c.checkURL(req.URL); err != nil {
		return nil, 0, err
	}
	if err := c.resolveAndCheck(ctx, req.URL.Hostname()); err != nil {
		return nil, 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, requestBudget)
	defer cancel()

	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func (c *SafeClient) checkURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q not allowed", u.Scheme)
	}
	if !c.allowTestPorts {
		switch p := u.Port(); p {
		case "", "80", "443", "8080", "8443":
		default:
			return fmt.Errorf("port %s not allowed", p)
		}
	}
	return nil
}

// resolveAndCheck rejects hosts whose A/AAAA answers land in blocked
// ranges. The dialer control re-checks at connect time.
func (c *SafeClient) resolveAndCheck(ctx context.Context, host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if c.blockedIP(ip) {
			return ErrBlockedHost
		}
		return nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("resolve %s: no addresses", host)
	}
	for _, a := range addrs {
		if c.blockedIP(a.IP) {
			return ErrBlockedHost
		}
	}
	return nil
}

func (c *SafeClient) blockedIP(ip net.IP) bool {
	if ip.IsLoopback() {
		return !c.allowLoopback
	}
	return ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified()
}
