package registry

import (
	"marketvault/core/types"
	"marketvault/crypto"
)

const (
	// TypeRoleGranted is emitted when an address receives a role.
	TypeRoleGranted = "registry.roleGranted"
	// TypeRoleRevoked is emitted when an address loses its role.
	TypeRoleRevoked = "registry.roleRevoked"
	// TypeAccountBlocked is emitted when an address is blocked.
	TypeAccountBlocked = "registry.accountBlocked"
	// TypeAccountUnblocked is emitted when a blocked address is restored.
	TypeAccountUnblocked = "registry.accountUnblocked"
)

// RoleGranted captures a role assignment.
type RoleGranted struct {
	Account crypto.Address
	Role    types.Role
}

func (RoleGranted) EventType() string { return TypeRoleGranted }

// Event converts the structured payload into a broadcastable event.
func (e RoleGranted) Event() *types.Event {
	return &types.Event{Type: TypeRoleGranted, Attributes: map[string]string{
		"account": e.Account.String(),
		"role":    e.Role.String(),
	}}
}

// RoleRevoked captures a role removal.
type RoleRevoked struct {
	Account crypto.Address
}

func (RoleRevoked) EventType() string { return TypeRoleRevoked }

func (e RoleRevoked) Event() *types.Event {
	return &types.Event{Type: TypeRoleRevoked, Attributes: map[string]string{
		"account": e.Account.String(),
	}}
}

// AccountBlocked captures an address being blocked.
type AccountBlocked struct {
	Account crypto.Address
}

func (AccountBlocked) EventType() string { return TypeAccountBlocked }

func (e AccountBlocked) Event() *types.Event {
	return &types.Event{Type: TypeAccountBlocked, Attributes: map[string]string{
		"account": e.Account.String(),
	}}
}

// AccountUnblocked captures a blocked address being restored.
type AccountUnblocked struct {
	Account crypto.Address
}

func (AccountUnblocked) EventType() string { return TypeAccountUnblocked }

func (e AccountUnblocked) Event() *types.Event {
	return &types.Event{Type: TypeAccountUnblocked, Attributes: map[string]string{
		"account": e.Account.String(),
	}}
}
