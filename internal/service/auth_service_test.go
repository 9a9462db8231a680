package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluegreen-cd/internal/dto"
	"bluegreen-cd/internal/repository"
	"bluegreen-cd/pkg/constants"
	pkgErrors "bluegreen-cd/pkg/responses"
)

func TestCreateAndVerifyAPIKey(t *testing.T) {
	repo := repository.NewMemoryAPIKeyRepository()
	auth := NewAuthService(nil, repo)

	resp, err := auth.CreateAPIKey(&dto.CreateAPIKeyRequest{
		TeamID: "platform",
		Actor:  "ci-bot",
		Role:   constants.RoleDeployer,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.APIKey)
	assert.Len(t, resp.APIKey, 64) // 32字节熵hex编码

	identity, err := auth.VerifyAPIKey(resp.APIKey)
	require.NoError(t, err)
	assert.Equal(t, "platform", identity.TeamID)
	assert.Equal(t, "ci-bot", identity.Actor)
	assert.Equal(t, constants.RoleDeployer, identity.Role)
	assert.Equal(t, constants.AuthTypeAPIKey, identity.AuthType)
}

func TestVerifyAPIKeyRejectsUnknownKey(t *testing.T) {
	auth := NewAuthService(nil, repository.NewMemoryAPIKeyRepository())

	_, err := auth.VerifyAPIKey("deadbeef")
	require.Error(t, err)
	assert.True(t, pkgErrors.IsCode(err, pkgErrors.CodeUnauthorized))
}

func TestVerifyAPIKeyRejectsEmptyKey(t *testing.T) {
	auth := NewAuthService(nil, repository.NewMemoryAPIKeyRepository())

	_, err := auth.VerifyAPIKey("")
	require.Error(t, err)
	assert.True(t, pkgErrors.IsCode(err, pkgErrors.CodeUnauthorized))
}

func TestTwoKeysAreDistinct(t *testing.T) {
	repo := repository.NewMemoryAPIKeyRepository()
	auth := NewAuthService(nil, repo)

	first, err := auth.CreateAPIKey(&dto.CreateAPIKeyRequest{TeamID: "a", Actor: "x", Role: constants.RoleViewer})
	require.NoError(t, err)
	second, err := auth.CreateAPIKey(&dto.CreateAPIKeyRequest{TeamID: "b", Actor: "y", Role: constants.RoleAdmin})
	require.NoError(t, err)
	assert.NotEqual(t, first.APIKey, second.APIKey)

	identity, err := auth.VerifyAPIKey(second.APIKey)
	require.NoError(t, err)
	assert.Equal(t, "b", identity.TeamID)
	assert.Equal(t, constants.RoleAdmin, identity.Role)
}
