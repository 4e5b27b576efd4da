package auth

import (
	"chat-sync/domain"
	"chat-sync/errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "chat-sync"

// CustomClaims defines the structure of the data stored inside the JWT.
// Authentication happens elsewhere, the engine only checks the signature and reads the identity.
type CustomClaims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

func (c CustomClaims) Identity() domain.Identity {
	return domain.Identity(c.UserID)
}

type Verifier struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewVerifier(key string, ttl time.Duration) *Verifier {
	return &Verifier{key: []byte(key), ttl: ttl, now: time.Now}
}

// Issue signs a token for identity. Used by the load tester and local tooling.
func (v *Verifier) Issue(identity domain.Identity, roles []string) (string, error) {
	now := v.now()
	claims := &CustomClaims{
		UserID: string(identity),
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.key)
}

// Verify parses and validates the signature and expiration of a JWT string.
func (v *Verifier) Verify(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: %v", errors.ErrUnauthenticated, jwt.ErrSignatureInvalid)
	}
	if err := domain.ValidateIdentity(claims.Identity()); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrUnauthenticated, err)
	}
	return claims, nil
}
