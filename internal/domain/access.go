package domain

import "github.com/ethereum/go-ethereum/common"

// Role is a capability a principal may hold.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleResolver Role = "RESOLVER"
	RoleBackend  Role = "BACKEND"
	RoleOperator Role = "OPERATOR"
	RoleFactory  Role = "FACTORY"
	RolePauser   Role = "PAUSER"
	RoleTreasury Role = "TREASURY"
)

// Roles lists every known role.
var Roles = []Role{RoleAdmin, RoleResolver, RoleBackend, RoleOperator, RoleFactory, RolePauser, RoleTreasury}

// ParseRole maps a role name to a Role.
func ParseRole(name string) (Role, bool) {
	for _, r := range Roles {
		if string(r) == name {
			return r, true
		}
	}
	return "", false
}

// AccessGate answers capability checks.
type AccessGate interface {
	HasRole(role Role, principal common.Address) bool
}
