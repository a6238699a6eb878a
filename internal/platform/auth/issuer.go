package auth

import (
	"errors"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Issuer mints HS256 tokens for service-to-service calls and reuses a token
// until it is within a minute of expiring.
type Issuer struct {
	Secret  []byte
	Subject string
	Role    string
	TTL     time.Duration
	Now     func() time.Time

	mu     sync.Mutex
	cached string
	exp    time.Time
}

func (i *Issuer) Token() (string, error) {
	if len(i.Secret) == 0 {
		return "", errors.New("missing jwt secret")
	}
	now := time.Now().UTC()
	if i.Now != nil {
		now = i.Now()
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cached != "" && now.Add(time.Minute).Before(i.exp) {
		return i.cached, nil
	}

	ttl := i.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   i.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role: i.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.Secret)
	if err != nil {
		return "", err
	}
	i.cached, i.exp = signed, exp
	return signed, nil
}
