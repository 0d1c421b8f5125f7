package utils

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// PingService checks that a TCP connection can be opened to serviceURL.
// serviceURL is either a URL or a bare host:port endpoint.
func PingService(ctx context.Context, serviceURL string, timeout time.Duration) error {
	address, err := dialAddress(serviceURL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	defer conn.Close()

	return nil
}

func dialAddress(serviceURL string) (string, error) {
	if !strings.Contains(serviceURL, "://") {
		if _, _, err := net.SplitHostPort(serviceURL); err != nil {
			return "", fmt.Errorf("invalid endpoint %q: %w", serviceURL, err)
		}
		return serviceURL, nil
	}

	parsedURL, err := url.Parse(serviceURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}

	port := parsedURL.Port()
	if port == "" {
		port = "80"
		if parsedURL.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(parsedURL.Hostname(), port), nil
}

// PingAuthorizer checks if the Authorizer service is reachable
func PingAuthorizer(ctx context.Context, authzURL string) error {
	return PingService(ctx, authzURL, 1500*time.Millisecond)
}
