package access

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

var (
	deployer = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

func TestGate_DeployerIsAdmin(t *testing.T) {
	g := New(deployer, nil, nil)
	assert.True(t, g.HasRole(domain.RoleAdmin, deployer))
	assert.False(t, g.HasRole(domain.RoleAdmin, alice))
}

func TestGate_GrantRevoke(t *testing.T) {
	var events domain.EventBuffer
	g := New(deployer, &events, nil)

	require.NoError(t, g.GrantRole(deployer, domain.RoleResolver, alice))
	assert.True(t, g.HasRole(domain.RoleResolver, alice))
	assert.True(t, g.HasAny(alice, domain.RoleBackend, domain.RoleResolver))
	assert.Equal(t, 1, events.Count(domain.EventRoleGranted))

	require.NoError(t, g.RevokeRole(deployer, domain.RoleResolver, alice))
	assert.False(t, g.HasRole(domain.RoleResolver, alice))
	assert.Equal(t, 1, events.Count(domain.EventRoleRevoked))
}

func TestGate_NonAdminCannotGrant(t *testing.T) {
	g := New(deployer, nil, nil)
	err := g.GrantRole(alice, domain.RoleAdmin, alice)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.ErrorIs(t, g.RevokeRole(alice, domain.RoleAdmin, deployer), domain.ErrUnauthorized)
}

func TestGate_ExportRestore(t *testing.T) {
	g := New(deployer, nil, nil)
	require.NoError(t, g.GrantRole(deployer, domain.RoleBackend, alice))

	other := New(common.HexToAddress("0x01"), nil, nil)
	other.Restore(g.Export())
	assert.True(t, other.HasRole(domain.RoleBackend, alice))
	assert.True(t, other.HasRole(domain.RoleAdmin, deployer))
	assert.False(t, other.HasRole(domain.RoleAdmin, common.HexToAddress("0x01")))
}
