package registry

import (
	"errors"

	"marketvault/core/events"
	"marketvault/core/types"
	"marketvault/crypto"
)

var (
	errNilState = errors.New("role registry: state not configured")

	// ErrNotController is returned when a non-controller caller attempts a
	// role mutation.
	ErrNotController = errors.New("role registry: caller is not the controller")
	// ErrAccountBlocked is returned when granting a role to a blocked
	// account. Blocked accounts require an explicit unblock first.
	ErrAccountBlocked = errors.New("role registry: account is blocked")
	// ErrNotBlocked is returned when unblocking an account that is not
	// blocked.
	ErrNotBlocked = errors.New("role registry: account is not blocked")
	// ErrInvalidRole is returned when granting a role outside the
	// withdraw-capable set.
	ErrInvalidRole = errors.New("role registry: role cannot be granted directly")
)

// IsAuthorizationError reports whether err represents a caller that lacks the
// standing to perform the operation.
func IsAuthorizationError(err error) bool {
	return errors.Is(err, ErrNotController) || errors.Is(err, ErrAccountBlocked)
}

// IsStateError reports whether err represents a request that conflicts with
// the current registry state.
func IsStateError(err error) bool {
	return errors.Is(err, ErrNotBlocked) || errors.Is(err, ErrInvalidRole)
}

// registryState is the persistence boundary for role records.
type registryState interface {
	GetRole(addr crypto.Address) (types.Role, error)
	PutRole(addr crypto.Address, role types.Role) error
}

// Registry is the authorization collaborator consumed by the market engine.
// Role mutations are controller-gated; reads are open.
type Registry struct {
	state      registryState
	controller crypto.Address
	emitter    events.Emitter
}

// NewRegistry constructs a registry gated on the controller address.
func NewRegistry(controller crypto.Address) *Registry {
	return &Registry{controller: controller, emitter: events.NoopEmitter{}}
}

// SetState wires the registry to the external persistence layer.
func (r *Registry) SetState(state registryState) { r.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// RoleOf returns the role currently held by the address. Unknown addresses
// hold RoleNone.
func (r *Registry) RoleOf(addr crypto.Address) (types.Role, error) {
	if r == nil || r.state == nil {
		return types.RoleNone, errNilState
	}
	return r.state.GetRole(addr)
}

// Grant assigns a withdraw-capable role to the address. Blocked accounts
// cannot be re-granted without a prior Unblock.
func (r *Registry) Grant(caller, addr crypto.Address, role types.Role) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if !caller.Equal(r.controller) {
		return ErrNotController
	}
	if role != types.RoleWithdrawOnly && role != types.RoleDepositAndWithdraw {
		return ErrInvalidRole
	}
	current, err := r.state.GetRole(addr)
	if err != nil {
		return err
	}
	if current == types.RoleBlocked {
		return ErrAccountBlocked
	}
	if err := r.state.PutRole(addr, role); err != nil {
		return err
	}
	r.emitter.Emit(RoleGranted{Account: addr, Role: role})
	return nil
}

// Revoke clears the address's role back to RoleNone.
func (r *Registry) Revoke(caller, addr crypto.Address) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if !caller.Equal(r.controller) {
		return ErrNotController
	}
	if err := r.state.PutRole(addr, types.RoleNone); err != nil {
		return err
	}
	r.emitter.Emit(RoleRevoked{Account: addr})
	return nil
}

// Block marks the address as blocked, suspending all market access until an
// explicit Unblock.
func (r *Registry) Block(caller, addr crypto.Address) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if !caller.Equal(r.controller) {
		return ErrNotController
	}
	if err := r.state.PutRole(addr, types.RoleBlocked); err != nil {
		return err
	}
	r.emitter.Emit(AccountBlocked{Account: addr})
	return nil
}

// Unblock transitions a blocked address back to RoleNone. It is the only
// path out of the blocked state.
func (r *Registry) Unblock(caller, addr crypto.Address) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if !caller.Equal(r.controller) {
		return ErrNotController
	}
	current, err := r.state.GetRole(addr)
	if err != nil {
		return err
	}
	if current != types.RoleBlocked {
		return ErrNotBlocked
	}
	if err := r.state.PutRole(addr, types.RoleNone); err != nil {
		return err
	}
	r.emitter.Emit(AccountUnblocked{Account: addr})
	return nil
}
