package registry

import (
	"errors"
	"testing"

	"marketvault/core/events"
	"marketvault/core/types"
	"marketvault/crypto"
)

type mockRegistryState struct {
	roles map[string]types.Role
}

func newMockRegistryState() *mockRegistryState {
	return &mockRegistryState{roles: make(map[string]types.Role)}
}

func (m *mockRegistryState) GetRole(addr crypto.Address) (types.Role, error) {
	return m.roles[string(addr.Bytes())], nil
}

func (m *mockRegistryState) PutRole(addr crypto.Address, role types.Role) error {
	m.roles[string(addr.Bytes())] = role
	return nil
}

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.MustNewAddress(crypto.MarketPrefix, raw)
}

func newTestRegistry() (*Registry, *events.Recorder, crypto.Address) {
	controller := makeAddress(0x01)
	recorder := &events.Recorder{}
	reg := NewRegistry(controller)
	reg.SetState(newMockRegistryState())
	reg.SetEmitter(recorder)
	return reg, recorder, controller
}

func TestGrantAssignsRole(t *testing.T) {
	reg, recorder, controller := newTestRegistry()
	lender := makeAddress(0x10)

	if err := reg.Grant(controller, lender, types.RoleDepositAndWithdraw); err != nil {
		t.Fatalf("grant: %v", err)
	}
	role, err := reg.RoleOf(lender)
	if err != nil {
		t.Fatalf("roleOf: %v", err)
	}
	if role != types.RoleDepositAndWithdraw {
		t.Fatalf("expected depositAndWithdraw, got %s", role)
	}
	captured := recorder.Events()
	if len(captured) != 1 || captured[0].EventType() != TypeRoleGranted {
		t.Fatalf("unexpected events: %v", captured)
	}
}

func TestGrantRequiresController(t *testing.T) {
	reg, _, _ := newTestRegistry()
	outsider := makeAddress(0x20)
	lender := makeAddress(0x10)

	if err := reg.Grant(outsider, lender, types.RoleWithdrawOnly); !errors.Is(err, ErrNotController) {
		t.Fatalf("expected controller gate, got %v", err)
	}
	role, err := reg.RoleOf(lender)
	if err != nil {
		t.Fatalf("roleOf: %v", err)
	}
	if role != types.RoleNone {
		t.Fatalf("role assigned despite rejection: %s", role)
	}
}

func TestGrantRejectsUngrantableRoles(t *testing.T) {
	reg, _, controller := newTestRegistry()
	lender := makeAddress(0x10)

	for _, role := range []types.Role{types.RoleNone, types.RoleBlocked} {
		if err := reg.Grant(controller, lender, role); !errors.Is(err, ErrInvalidRole) {
			t.Fatalf("role %s: expected invalid role, got %v", role, err)
		}
	}
}

func TestRevokeClearsRole(t *testing.T) {
	reg, _, controller := newTestRegistry()
	lender := makeAddress(0x10)

	if err := reg.Grant(controller, lender, types.RoleWithdrawOnly); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := reg.Revoke(controller, lender); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	role, err := reg.RoleOf(lender)
	if err != nil {
		t.Fatalf("roleOf: %v", err)
	}
	if role != types.RoleNone {
		t.Fatalf("expected none after revoke, got %s", role)
	}
}

func TestBlockedAccountNeedsExplicitUnblock(t *testing.T) {
	reg, _, controller := newTestRegistry()
	lender := makeAddress(0x10)

	if err := reg.Grant(controller, lender, types.RoleDepositAndWithdraw); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := reg.Block(controller, lender); err != nil {
		t.Fatalf("block: %v", err)
	}
	role, err := reg.RoleOf(lender)
	if err != nil {
		t.Fatalf("roleOf: %v", err)
	}
	if role != types.RoleBlocked {
		t.Fatalf("expected blocked, got %s", role)
	}

	// Granting over a block is refused until the account is unblocked.
	if err := reg.Grant(controller, lender, types.RoleDepositAndWithdraw); !errors.Is(err, ErrAccountBlocked) {
		t.Fatalf("expected blocked refusal, got %v", err)
	}
	if err := reg.Unblock(controller, lender); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	role, err = reg.RoleOf(lender)
	if err != nil {
		t.Fatalf("roleOf: %v", err)
	}
	if role != types.RoleNone {
		t.Fatalf("expected none after unblock, got %s", role)
	}
	if err := reg.Grant(controller, lender, types.RoleDepositAndWithdraw); err != nil {
		t.Fatalf("re-grant after unblock: %v", err)
	}
}

func TestUnblockRequiresBlockedState(t *testing.T) {
	reg, _, controller := newTestRegistry()
	lender := makeAddress(0x10)

	if err := reg.Unblock(controller, lender); !errors.Is(err, ErrNotBlocked) {
		t.Fatalf("expected not blocked, got %v", err)
	}
}

func TestErrorClassifiers(t *testing.T) {
	if !IsAuthorizationError(ErrNotController) || !IsAuthorizationError(ErrAccountBlocked) {
		t.Fatal("authorization class incomplete")
	}
	if !IsStateError(ErrNotBlocked) || !IsStateError(ErrInvalidRole) {
		t.Fatal("state class incomplete")
	}
	if IsAuthorizationError(ErrInvalidRole) || IsStateError(ErrNotController) {
		t.Fatal("classes overlap")
	}
}
