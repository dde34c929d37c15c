package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

type claims struct {
	FamilyID  string `json:"fam"`
	Role      Role   `json:"role"`
	ActingFor string `json:"act,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 bearer tokens that carry an AuthContext.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (i *Issuer) Issue(ac AuthContext) (string, error) {
	if ac.ActorID == "" || ac.FamilyID == "" {
		return "", fmt.Errorf("issue token: actor and family are required")
	}
	if ac.Role != RoleParent && ac.Role != RoleChild {
		return "", fmt.Errorf("issue token: unknown role %q", ac.Role)
	}
	now := i.now()
	c := claims{
		FamilyID:  ac.FamilyID,
		Role:      ac.Role,
		ActingFor: ac.ActingFor,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ac.ActorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (i *Issuer) Parse(token string) (AuthContext, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return AuthContext{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" || c.FamilyID == "" || (c.Role != RoleParent && c.Role != RoleChild) {
		return AuthContext{}, ErrInvalidToken
	}
	return AuthContext{
		ActorID:   c.Subject,
		FamilyID:  c.FamilyID,
		Role:      c.Role,
		ActingFor: c.ActingFor,
	}, nil
}
