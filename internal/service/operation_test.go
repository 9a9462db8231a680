package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluegreen-cd/internal/adapter/audit"
	"bluegreen-cd/pkg/constants"
	pkgErrors "bluegreen-cd/pkg/responses"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *recordingSink) Record(_ context.Context, entry audit.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

func (s *recordingSink) last(t *testing.T) audit.Entry {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.entries)
	return s.entries[len(s.entries)-1]
}

type stubOperation struct {
	action      string
	validateErr error
	err         error
	called      bool
}

func (op *stubOperation) Action() string   { return op.action }
func (op *stubOperation) Resource() string { return "demo-app/production" }
func (op *stubOperation) Params() map[string]interface{} {
	return map[string]interface{}{"version": "v2"}
}

func (op *stubOperation) Validate() error { return op.validateErr }

func (op *stubOperation) Execute(_ context.Context) (interface{}, error) {
	op.called = true
	if op.err != nil {
		return nil, op.err
	}
	return "ok", nil
}

func deployerIdentity() *TeamIdentity {
	return &TeamIdentity{TeamID: "platform", Actor: "alice", Role: constants.RoleDeployer, AuthType: constants.AuthTypeAPIKey}
}

func TestExecutorRunSuccess(t *testing.T) {
	sink := &recordingSink{}
	exec := NewExecutor(sink)
	op := &stubOperation{action: constants.ActionDeploy}

	result, err := exec.Run(context.Background(), deployerIdentity(), op)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.True(t, op.called)

	entry := sink.last(t)
	assert.Equal(t, "alice", entry.Actor)
	assert.Equal(t, constants.ActionDeploy, entry.Action)
	assert.Equal(t, "demo-app/production", entry.Resource)
	assert.True(t, entry.Success)
	assert.NoError(t, entry.Err)
}

func TestExecutorRunRecordsFailure(t *testing.T) {
	sink := &recordingSink{}
	exec := NewExecutor(sink)
	opErr := errors.New("docker run failed")
	op := &stubOperation{action: constants.ActionDeploy, err: opErr}

	_, err := exec.Run(context.Background(), deployerIdentity(), op)
	require.ErrorIs(t, err, opErr)

	entry := sink.last(t)
	assert.False(t, entry.Success)
	assert.ErrorIs(t, entry.Err, opErr)
}

func TestExecutorDeniesInsufficientRole(t *testing.T) {
	sink := &recordingSink{}
	exec := NewExecutor(sink)
	op := &stubOperation{action: constants.ActionTeardownProject}

	identity := deployerIdentity()
	_, err := exec.Run(context.Background(), identity, op)
	require.Error(t, err)
	assert.True(t, pkgErrors.IsCode(err, pkgErrors.CodePermissionDenied))
	assert.False(t, op.called, "拒绝的操作不应被执行")

	// 拒绝同样要落审计
	entry := sink.last(t)
	assert.Equal(t, constants.ActionTeardownProject, entry.Action)
	assert.False(t, entry.Success)
}

func TestExecutorStopsOnValidationError(t *testing.T) {
	sink := &recordingSink{}
	exec := NewExecutor(sink)
	op := &stubOperation{
		action:      constants.ActionDeploy,
		validateErr: pkgErrors.New(pkgErrors.CodeBadRequest, "版本不能为空"),
	}

	_, err := exec.Run(context.Background(), deployerIdentity(), op)
	require.Error(t, err)
	assert.True(t, pkgErrors.IsCode(err, pkgErrors.CodeBadRequest))
	assert.False(t, op.called)
}

func TestExecutorRejectsNilIdentity(t *testing.T) {
	exec := NewExecutor(&recordingSink{})
	op := &stubOperation{action: constants.ActionDeploy}

	_, err := exec.Run(context.Background(), nil, op)
	require.Error(t, err)
	assert.True(t, pkgErrors.IsCode(err, pkgErrors.CodeUnauthorized))
	assert.False(t, op.called)
}

func TestRoleCan(t *testing.T) {
	tests := []struct {
		role   string
		action string
		want   bool
	}{
		{constants.RoleViewer, constants.ActionSlotStatus, true},
		{constants.RoleViewer, constants.ActionHistory, true},
		{constants.RoleViewer, constants.ActionDeploy, false},
		{constants.RoleViewer, constants.ActionTeardownProject, false},
		{constants.RoleDeployer, constants.ActionDeploy, true},
		{constants.RoleDeployer, constants.ActionPromote, true},
		{constants.RoleDeployer, constants.ActionRollback, true},
		{constants.RoleDeployer, constants.ActionInitProject, false},
		{constants.RoleDeployer, constants.ActionCreateAPIKey, false},
		{constants.RoleAdmin, constants.ActionInitProject, true},
		{constants.RoleAdmin, constants.ActionTeardownProject, true},
		{constants.RoleAdmin, constants.ActionCreateAPIKey, true},
		{"unknown", constants.ActionSlotStatus, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RoleCan(tt.role, tt.action), "%s/%s", tt.role, tt.action)
	}
}
