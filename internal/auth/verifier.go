// Package auth verifies bearer tokens for the plan API.
package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ModeOff  = "off"
	ModeDev  = "dev"
	ModeHMAC = "hmac"
	ModeJWKS = "jwks"
)

const (
	RoleViewer  = "viewer"
	RolePlanner = "planner"
	RoleAdmin   = "admin"
)

var ErrUnauthorized = errors.New("unauthorized")

// Principal is the caller identity extracted from a token.
type Principal struct {
	Subject string
	Role    string
}

// CanPlan reports whether the principal may submit optimization runs.
func (p Principal) CanPlan() bool { return p.Role == RolePlanner || p.Role == RoleAdmin }

// Config selects the verification mode. Off trusts every caller as admin,
// dev accepts "subject:role" tokens, hmac checks HS256 and jwks checks
// RS256 against a key set URL.
type Config struct {
	Mode       string
	HMACSecret string
	JWKSURL    string
	RoleClaim  string
}

type Verifier struct {
	mode      string
	secret    []byte
	jwksURL   string
	roleClaim string
	http      *http.Client

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time
	cacheTTL  time.Duration
}

func NewVerifier(cfg Config) (*Verifier, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = ModeOff
	}
	v := &Verifier{
		mode:      mode,
		secret:    []byte(cfg.HMACSecret),
		jwksURL:   cfg.JWKSURL,
		roleClaim: cfg.RoleClaim,
		http:      &http.Client{Timeout: 5 * time.Second},
		cacheTTL:  10 * time.Minute,
	}
	if v.roleClaim == "" {
		v.roleClaim = "role"
	}
	switch mode {
	case ModeOff, ModeDev:
	case ModeHMAC:
		if len(v.secret) == 0 {
			return nil, errors.New("auth: hmac mode needs a secret")
		}
	case ModeJWKS:
		if v.jwksURL == "" {
			return nil, errors.New("auth: jwks mode needs a key set URL")
		}
	default:
		return nil, fmt.Errorf("auth: unsupported mode %q", cfg.Mode)
	}
	return v, nil
}

// Enabled is false when every request is trusted.
func (v *Verifier) Enabled() bool { return v.mode != ModeOff }

// Authenticate extracts the principal of a request.
func (v *Verifier) Authenticate(r *http.Request) (Principal, error) {
	if v.mode == ModeOff {
		return Principal{Subject: "anonymous", Role: RoleAdmin}, nil
	}
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return Principal{}, fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	return v.Verify(strings.TrimSpace(authz[len("Bearer "):]))
}

func (v *Verifier) Verify(token string) (Principal, error) {
	if v.mode == ModeDev {
		sub, role, ok := strings.Cut(token, ":")
		if !ok || sub == "" {
			return Principal{}, fmt.Errorf("%w: expected subject:role dev token", ErrUnauthorized)
		}
		return Principal{Subject: sub, Role: strings.ToLower(role)}, nil
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, v.keyFunc, jwt.WithValidMethods(v.methods()))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	sub, _ := claims.GetSubject()
	role, _ := claims[v.roleClaim].(string)
	if role == "" {
		role = RoleViewer
	}
	return Principal{Subject: sub, Role: strings.ToLower(role)}, nil
}

func (v *Verifier) methods() []string {
	if v.mode == ModeJWKS {
		return []string{jwt.SigningMethodRS256.Alg()}
	}
	return []string{jwt.SigningMethodHS256.Alg()}
}

func (v *Verifier) keyFunc(t *jwt.Token) (interface{}, error) {
	if v.mode == ModeHMAC {
		return v.secret, nil
	}
	kid, _ := t.Header["kid"].(string)
	return v.rsaKey(kid)
}

// rsaKey returns the cached key for kid, refetching the key set when it is
// stale or the kid is unknown.
func (v *Verifier) rsaKey(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	stale := time.Since(v.lastFetch) > v.cacheTTL
	v.mu.RUnlock()
	if ok && !stale {
		return key, nil
	}
	if err := v.fetchJWKS(); err != nil {
		return nil, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	return nil, errors.New("kid not found in JWKS")
}

type jwkSet struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (v *Verifier) fetchJWKS() error {
	resp, err := v.http.Get(v.jwksURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch: status %d", resp.StatusCode)
	}
	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return err
	}
	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return err
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return err
		}
		keys[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}
	}
	v.mu.Lock()
	v.keys = keys
	v.lastFetch = time.Now()
	v.mu.Unlock()
	return nil
}
