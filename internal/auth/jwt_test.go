package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devbazaar/escrow-engine/internal/domain"
)

const testSecret = "test-secret"

func TestGenerateAndValidateToken(t *testing.T) {
	actor := domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}

	token, err := GenerateToken(actor, testSecret, time.Hour)
	require.NoError(t, err)

	parsed, err := ValidateToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, actor.ID, parsed.ID)
	assert.Equal(t, domain.RoleAdmin, parsed.Role)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	actor := domain.Actor{ID: uuid.New(), Role: domain.RoleClient}

	token, err := GenerateToken(actor, testSecret, time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken(token, "other-secret")
	assert.Error(t, err)
}

func TestValidateToken_Expired(t *testing.T) {
	actor := domain.Actor{ID: uuid.New(), Role: domain.RoleDeveloper}

	token, err := GenerateToken(actor, testSecret, -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(token, testSecret)
	assert.Error(t, err)
}

func TestValidateToken_UnknownRole(t *testing.T) {
	actor := domain.Actor{ID: uuid.New(), Role: domain.Role("superuser")}

	token, err := GenerateToken(actor, testSecret, time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken(token, testSecret)
	assert.Error(t, err)
}
