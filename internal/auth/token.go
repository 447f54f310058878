// Package auth verifies the bearer tokens issued by the identity service.
// Tokens are HS256 JWTs whose subject is the user or agent ID and whose
// "role" claim tells which side of the chat they belong to.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"supportchat/backend/internal/config"
	"supportchat/backend/internal/models"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carried by support-chat tokens.
type Claims struct {
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Verifier checks and, for development, issues tokens.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: config.TokenIssuer}
}

// Parse validates signature, expiry and issuer and returns the claims.
func (v *Verifier) Parse(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	switch claims.Role {
	case models.RoleAgent, models.RoleVisitor:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}

// Issue signs a token for subject. Only the dev-token endpoint and tests use it.
func (v *Verifier) Issue(subject string, role models.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Participant maps verified claims onto a chat participant.
func (c *Claims) Participant() models.Participant {
	if c.Role == models.RoleAgent {
		return models.AgentParticipant(c.Subject)
	}
	return models.VisitorParticipant(models.Authenticated(c.Subject))
}
