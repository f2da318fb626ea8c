// Package config loads service configuration from the environment. A local
// .env file is honored when present so development matches deployment.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config carries everything the binaries need to start.
type Config struct {
	HTTPAddr     string
	DatabaseURL  string
	AuthSecret   string
	BaseURL      string
	CookieDomain string
	// ApexDomain anchors tenant resolution from subdomains, e.g.
	// "example.com" makes acme.example.com resolve to the acme tenant.
	ApexDomain string
	// TrustProxyHeaders enables tenant resolution from X-Tenant-Id and
	// X-Tenant-Slug. Only safe behind a proxy that strips client copies.
	TrustProxyHeaders bool
	CORSOrigins       []string
	// AdminMFACode, when set, wires the static second-factor verifier for
	// local development. Leave empty in production deployments.
	AdminMFACode   string
	RateLimitRPS   int
	RateLimitBurst int
	// Production toggles the Secure attribute on auth cookies.
	Production bool
}

// Load reads configuration from .env (if present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		AuthSecret:        strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		BaseURL:           getenv("BASE_URL", "http://localhost:8080"),
		CookieDomain:      os.Getenv("COOKIE_DOMAIN"),
		ApexDomain:        getenv("APEX_DOMAIN", "localhost"),
		TrustProxyHeaders: parseBool(os.Getenv("TRUST_PROXY_HEADERS")),
		CORSOrigins:       splitList(os.Getenv("CORS_ORIGINS")),
		AdminMFACode:      strings.TrimSpace(os.Getenv("ADMIN_MFA_CODE")),
		RateLimitRPS:      parseInt(os.Getenv("RATE_LIMIT_RPS"), 50),
		RateLimitBurst:    parseInt(os.Getenv("RATE_LIMIT_BURST"), 100),
		Production:        parseBool(os.Getenv("PRODUCTION")),
	}
	if cfg.AuthSecret == "" {
		return Config{}, errors.New("config: AUTH_SECRET is required")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false
	}
	return b
}

func parseInt(v string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
