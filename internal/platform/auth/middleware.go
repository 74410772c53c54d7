// Package auth validates the bearer JWTs issued by the identity provider.
// The token subject is the subscriber's external identifier; name and email
// ride along as custom claims and seed the subscriber row.
package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
)

// Echo context keys set after successful authentication.
const (
	ContextKeyExternalID = "external_id"
	ContextKeyClaims     = "auth_claims"
)

// Claims carried by the provider's tokens.
type Claims struct {
	jwt.RegisteredClaims
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Config for token validation. Authorities are the acceptable issuers,
// Audiences the acceptable audience values; a token must match one of each
// when the list is non-empty.
type Config struct {
	JWKSURL     string
	Authorities []string
	Audiences   []string

	// SigningKey switches validation to HMAC. Test use only.
	SigningKey []byte
}

// jwksCache holds the provider's RSA keys, refreshed on miss or expiry.
type jwksCache struct {
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time

	url    string
	ttl    time.Duration
	client *http.Client
}

const jwksTTL = 5 * time.Minute

func newJWKSCache(url string) *jwksCache {
	return &jwksCache{
		keys:   make(map[string]*rsa.PublicKey),
		url:    url,
		ttl:    jwksTTL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *jwksCache) key(kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	stale := time.Since(c.fetchedAt) > c.ttl
	c.mu.RUnlock()
	if ok && !stale {
		return key, nil
	}

	if err := c.fetch(); err != nil {
		return nil, fmt.Errorf("failed to fetch jwks: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no key %q in jwks", kid)
	}
	return key, nil
}

func (c *jwksCache) fetch() error {
	resp, err := c.client.Get(c.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(payload.Keys))
	for _, k := range payload.Keys {
		if k.Kty != "RSA" {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		}
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// Middleware authenticates every request it wraps. The validated subject is
// stored on the echo context as the external id, the full claims next to it.
func Middleware(cfg Config) echo.MiddlewareFunc {
	var keyFunc jwt.Keyfunc
	var methods []string
	if len(cfg.SigningKey) > 0 {
		methods = []string{"HS256"}
		keyFunc = func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
	} else {
		methods = []string{"RS256"}
		cache := newJWKSCache(cfg.JWKSURL)
		keyFunc = func(token *jwt.Token) (interface{}, error) {
			kid, ok := token.Header["kid"].(string)
			if !ok || kid == "" {
				return nil, fmt.Errorf("token has no kid header")
			}
			return cache.key(kid)
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, keyFunc,
				jwt.WithValidMethods(methods))
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has no subject")
			}
			if len(cfg.Authorities) > 0 && !lo.Contains(cfg.Authorities, claims.Issuer) {
				return echo.NewHTTPError(http.StatusUnauthorized, "issuer not accepted")
			}
			if len(cfg.Audiences) > 0 && !lo.Some(cfg.Audiences, claims.Audience) {
				return echo.NewHTTPError(http.StatusUnauthorized, "audience not accepted")
			}

			c.Set(ContextKeyExternalID, claims.Subject)
			c.Set(ContextKeyClaims, claims)
			return next(c)
		}
	}
}

// DevMiddleware accepts bearer tokens without verifying their signature and
// falls back to a fixed local identity when the header is absent. For local
// runs only; config.Load warns loudly when it is active.
func DevMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := &Claims{
				RegisteredClaims: jwt.RegisteredClaims{Subject: "dev-subscriber"},
				Name:             "Dev Subscriber",
				Email:            "dev@localhost",
			}
			header := c.Request().Header.Get("Authorization")
			if parts := strings.SplitN(header, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
				parsed := &Claims{}
				if _, _, err := jwt.NewParser().ParseUnverified(parts[1], parsed); err == nil && parsed.Subject != "" {
					claims = parsed
				}
			}
			c.Set(ContextKeyExternalID, claims.Subject)
			c.Set(ContextKeyClaims, claims)
			return next(c)
		}
	}
}

// ClaimsFrom returns the claims stored by Middleware.
func ClaimsFrom(c echo.Context) (*Claims, bool) {
	claims, ok := c.Get(ContextKeyClaims).(*Claims)
	return claims, ok
}

// ExternalIDFrom returns the authenticated subscriber's external id. ok is
// false on requests that never passed the middleware.
func ExternalIDFrom(c echo.Context) (string, bool) {
	id, ok := c.Get(ContextKeyExternalID).(string)
	return id, ok && id != ""
}
