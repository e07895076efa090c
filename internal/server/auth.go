package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/wethinkt/go-timegrid/internal/api"
	"github.com/wethinkt/go-timegrid/internal/tuilog"
)

// AuthMode selects where the expected bearer token comes from.
type AuthMode int

const (
	// AuthModeNone serves every request (loopback use).
	AuthModeNone AuthMode = iota
	// AuthModeToken compares against AuthConfig.Token.
	AuthModeToken
	// AuthModeEnvToken reads the token from AuthConfig.EnvVar on each request,
	// so rotating the variable in a supervisor takes effect without restart.
	AuthModeEnvToken
)

// AuthConfig configures bearer authentication for the API.
type AuthConfig struct {
	Mode   AuthMode
	Token  string
	EnvVar string
	Realm  string // default "timegrid"
}

// TokenEnvVar is read by AuthFromEnv and by the browse command's --server
// client.
const TokenEnvVar = "TIMEGRID_API_TOKEN"

// AuthFromEnv returns env-token auth when TIMEGRID_API_TOKEN is set.
func AuthFromEnv() AuthConfig {
	if os.Getenv(TokenEnvVar) == "" {
		return AuthConfig{Mode: AuthModeNone}
	}
	return AuthConfig{Mode: AuthModeEnvToken, EnvVar: TokenEnvVar}
}

func (c AuthConfig) expected() string {
	switch c.Mode {
	case AuthModeToken:
		return c.Token
	case AuthModeEnvToken:
		return os.Getenv(c.EnvVar)
	}
	return ""
}

func (c AuthConfig) realm() string {
	if c.Realm == "" {
		return "timegrid"
	}
	return c.Realm
}

// BearerAuthenticator guards handlers with a static bearer token.
type BearerAuthenticator struct {
	config AuthConfig
}

func NewBearerAuthenticator(config AuthConfig) *BearerAuthenticator {
	return &BearerAuthenticator{config: config}
}

// IsEnabled reports whether requests need a token.
func (a *BearerAuthenticator) IsEnabled() bool {
	return a.config.Mode != AuthModeNone
}

// requestToken extracts the bearer token. The events websocket is opened
// by browsers that cannot set headers, so ?token= is accepted as well.
func requestToken(r *http.Request) (string, string) {
	h := r.Header.Get("Authorization")
	if h == "" {
		if q := r.URL.Query().Get("token"); q != "" {
			return q, ""
		}
		return "", "Missing Authorization header"
	}
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "Invalid Authorization header format"
	}
	return tok, ""
}

// AuthenticateRequest checks r and writes a 401 when it fails.
func (a *BearerAuthenticator) AuthenticateRequest(w http.ResponseWriter, r *http.Request) bool {
	if a.config.Mode == AuthModeNone {
		return true
	}
	got, problem := requestToken(r)
	if problem != "" {
		a.reject(w, problem)
		return false
	}
	want := a.config.expected()
	if want == "" {
		a.reject(w, "Server authentication not configured")
		return false
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		tuilog.Log.Info("Rejected API token", "realm", a.config.realm(), "remote", r.RemoteAddr, "path", r.URL.Path)
		a.reject(w, "Invalid token")
		return false
	}
	return true
}

func (a *BearerAuthenticator) reject(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm="%s"`, a.config.realm()))
	writeError(w, http.StatusUnauthorized, api.CodeUnauthorized, message)
}

// Middleware enforces authentication on next.
func (a *BearerAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.AuthenticateRequest(w, r) {
			next.ServeHTTP(w, r)
		}
	})
}

// GenerateSecureToken returns 32 random bytes hex encoded.
func GenerateSecureToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateSecureTokenWithPrefix returns a token shaped
// timegrid_<yyyymmdd>_<32 hex chars>, recognisable in config files and logs.
func GenerateSecureTokenWithPrefix() (string, error) {
	random, err := GenerateSecureToken()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("timegrid_%s_%s", time.Now().UTC().Format("20060102"), random[:32]), nil
}
