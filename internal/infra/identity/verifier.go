package identity

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultKeyTTL     = time.Hour
	minKeyRefresh     = time.Minute
	verificationSkew  = 5 * time.Minute
	sessionIssuerBase = "https://session.firebase.google.com/"
)

// keySet caches the service's signing keys by key id. An unknown kid forces
// a refetch, at most once per minKeyRefresh.
type keySet struct {
	fetch func(ctx context.Context) (map[string]string, error)
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func (k *keySet) get(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	stale := now.Sub(k.fetchedAt) >= k.ttl
	key, known := k.keys[kid]
	if known && !stale {
		return key, nil
	}
	if known || now.Sub(k.fetchedAt) >= minKeyRefresh || k.keys == nil {
		if err := k.refresh(ctx, now); err != nil {
			if known {
				return key, nil
			}
			return nil, err
		}
		key, known = k.keys[kid]
	}
	if !known {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return key, nil
}

func (k *keySet) refresh(ctx context.Context, now time.Time) error {
	raw, err := k.fetch(ctx)
	if err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(raw))
	for kid, pem := range raw {
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			return fmt.Errorf("failed to parse signing key %q: %w", kid, err)
		}
		keys[kid] = pub
	}

	k.keys = keys
	k.fetchedAt = now
	return nil
}

type verifier struct {
	keys     *keySet
	issuer   string
	audience string
	now      func() time.Time
}

func (v *verifier) verify(ctx context.Context, raw string) (*Token, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("token has no kid header")
			}
			return v.keys.get(ctx, kid)
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(verificationSkew),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}

	token := &Token{
		UID:    sub,
		Claims: claims,
	}
	token.Email, _ = claims["email"].(string)
	token.Role, _ = claims["role"].(string)
	if iat, _ := claims.GetIssuedAt(); iat != nil {
		token.IssuedAt = iat.Time
	}
	if exp, _ := claims.GetExpirationTime(); exp != nil {
		token.ExpiresAt = exp.Time
	}
	if authTime, ok := claims["auth_time"].(float64); ok {
		token.AuthTime = time.Unix(int64(authTime), 0)
	}
	return token, nil
}
