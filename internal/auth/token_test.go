package auth_test

import (
	"supportchat/backend/internal/auth"
	"supportchat/backend/internal/models"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_IssueAndParse(t *testing.T) {
	v := auth.NewVerifier("secret")

	token, err := v.Issue("agent-1", models.RoleAgent, time.Hour)
	require.NoError(t, err)

	claims, err := v.Parse("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", claims.Subject)
	assert.Equal(t, models.AgentParticipant("agent-1"), claims.Participant())
}

func TestVerifier_VisitorParticipant(t *testing.T) {
	v := auth.NewVerifier("secret")
	token, err := v.Issue("u42", models.RoleVisitor, time.Hour)
	require.NoError(t, err)

	claims, err := v.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, models.VisitorParticipant(models.Authenticated("u42")), claims.Participant())
}

func TestVerifier_Rejects(t *testing.T) {
	v := auth.NewVerifier("secret")

	expired, err := v.Issue("u1", models.RoleVisitor, -time.Minute)
	require.NoError(t, err)

	foreign, err := auth.NewVerifier("other-secret").Issue("u1", models.RoleVisitor, time.Hour)
	require.NoError(t, err)

	noRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    "support-identity",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"expired":      expired,
		"wrong secret": foreign,
		"no role":      noRole,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Parse(token)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}
