package middleware

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/stemflow/internal/config"
)

func TestNormalizeVersion(t *testing.T) {
	tests := map[string]string{"1": "1.0.0", "1.0": "1.0.0", "v1.2": "1.2.0", "1.2.3": "1.2.3"}
	for in, want := range tests {
		if got := normalizeVersion(in); got != want {
			t.Errorf("%s: expected %s, got %s", in, want, got)
		}
	}
}

func TestVersionMiddleware(t *testing.T) {
	app := newTestApp(&config.Config{AuthMode: config.AuthModeHeader})

	req := httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set(UserIDHeader, "alice")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to execute request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "alice@1.0.0" {
		t.Errorf("Expected default version, got %s", body)
	}
	if resp.Header.Get(APIVersionHeader) != "1.0.0" {
		t.Errorf("Expected version response header, got %q", resp.Header.Get(APIVersionHeader))
	}

	req = httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set(UserIDHeader, "alice")
	req.Header.Set(APIVersionHeader, "2")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("Failed to execute request: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 for version 2, got %d", resp.StatusCode)
	}
}
