package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/nuget-registry/nuget-registry/internal/auth"
	"github.com/nuget-registry/nuget-registry/internal/config"
)

// ---------------------------------------------------------------------------
// APIKeyMiddleware
// ---------------------------------------------------------------------------

func newAPIKeyRouter(cfg config.RegistryConfig) *gin.Engine {
	r := gin.New()
	r.PUT("/push", APIKeyMiddleware(auth.NewAuthenticator(&cfg)), func(c *gin.Context) {
		id, _ := c.Get(APIKeyIDKey)
		c.String(http.StatusCreated, "%v", id)
	})
	return r
}

func TestAPIKeyMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.RegistryConfig
		header     string
		wantStatus int
	}{
		{"valid key", config.RegistryConfig{APIKey: "secret-key"}, "secret-key", http.StatusCreated},
		{"wrong key", config.RegistryConfig{APIKey: "secret-key"}, "wrong-key", http.StatusUnauthorized},
		{"missing header", config.RegistryConfig{APIKey: "secret-key"}, "", http.StatusUnauthorized},
		{"no key configured", config.RegistryConfig{}, "anything", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newAPIKeyRouter(tt.cfg)
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPut, "/push", nil)
			if tt.header != "" {
				req.Header.Set(APIKeyHeader, tt.header)
			}
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestAPIKeyMiddleware_SetsKeyID(t *testing.T) {
	r := newAPIKeyRouter(config.RegistryConfig{APIKey: "secret-key"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/push", nil)
	req.Header.Set(APIKeyHeader, "secret-key")
	r.ServeHTTP(w, req)

	if got := w.Body.String(); got != "sec" {
		t.Errorf("api_key_id = %q, want %q", got, "sec")
	}
}

// ---------------------------------------------------------------------------
// Server mode
// ---------------------------------------------------------------------------

func TestModeMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		mw         gin.HandlerFunc
		wantStatus int
	}{
		{"read allowed", ReadModeMiddleware(true), http.StatusOK},
		{"read denied", ReadModeMiddleware(false), http.StatusUnauthorized},
		{"write allowed", WriteModeMiddleware(true), http.StatusOK},
		{"write denied", WriteModeMiddleware(false), http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached := false
			r := gin.New()
			r.GET("/x", tt.mw, func(c *gin.Context) {
				reached = true
				c.Status(http.StatusOK)
			})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if reached != (tt.wantStatus == http.StatusOK) {
				t.Errorf("handler reached = %v", reached)
			}
		})
	}
}
