package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/pipeline-crm/internal/models"
	"github.com/hongminglow/pipeline-crm/internal/storage/memstore"
)

func TestSeededPolicies(t *testing.T) {
	enf, err := NewEnforcer(context.Background(), memstore.New())
	require.NoError(t, err)

	cases := []struct {
		role, perm string
		want       bool
	}{
		{models.AdminRole, models.PermInvitationsManage, true},
		{models.AdminRole, models.PermRolesManage, true},
		{models.AdminRole, "anything:goes", true},
		{models.MemberRole, models.PermPipelineWrite, true},
		{models.MemberRole, models.PermEmailsSend, true},
		{models.MemberRole, models.PermInvitationsManage, false},
		{models.MemberRole, models.PermRolesManage, false},
		{"Ghost", models.PermPipelineWrite, false},
	}
	for _, tc := range cases {
		t.Run(tc.role+" "+tc.perm, func(t *testing.T) {
			ok, err := enf.Allowed(tc.role, tc.perm)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestAddRole(t *testing.T) {
	enf, err := NewEnforcer(context.Background(), memstore.New())
	require.NoError(t, err)

	ok, err := enf.Allowed("Sales", models.PermEmailsSend)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, enf.AddRole(models.Role{Name: "Sales", Permissions: []string{models.PermEmailsSend}}))

	ok, err = enf.Allowed("Sales", models.PermEmailsSend)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = enf.Allowed("Sales", models.PermPipelineWrite)
	require.NoError(t, err)
	assert.False(t, ok)
}
