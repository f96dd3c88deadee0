package rpc

import (
	"fmt"
	"net/http"
	"strings"

	"marketvault/core/types"
	"marketvault/crypto"
)

type registryRoleParams struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
	Role    string `json:"role,omitempty"`
}

type registryRoleResult struct {
	Address string `json:"address"`
	Role    string `json:"role"`
}

func parseRole(raw string) (types.Role, error) {
	switch strings.TrimSpace(raw) {
	case "withdrawOnly":
		return types.RoleWithdrawOnly, nil
	case "depositAndWithdraw":
		return types.RoleDepositAndWithdraw, nil
	default:
		return types.RoleNone, fmt.Errorf("unknown role %q", raw)
	}
}

func (s *Server) handleRegistryRoleOf(w http.ResponseWriter, req *RPCRequest) int {
	var params registryRoleParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	role, err := s.registry.RoleOf(addr)
	if err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, registryRoleResult{Address: addr.String(), Role: role.String()})
	return http.StatusOK
}

func (s *Server) handleRegistryGrant(w http.ResponseWriter, req *RPCRequest) int {
	var params registryRoleParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	caller, target, status := s.parseCallerTarget(w, req, params.Caller, params.Address)
	if status != 0 {
		return status
	}
	role, err := parseRole(params.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	if err := s.finalizeWrite(s.registry.Grant(caller, target, role)); err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, true)
	return http.StatusOK
}

func (s *Server) handleRegistryRevoke(w http.ResponseWriter, req *RPCRequest) int {
	return s.registryMutation(w, req, s.registry.Revoke)
}

func (s *Server) handleRegistryBlock(w http.ResponseWriter, req *RPCRequest) int {
	return s.registryMutation(w, req, s.registry.Block)
}

func (s *Server) handleRegistryUnblock(w http.ResponseWriter, req *RPCRequest) int {
	return s.registryMutation(w, req, s.registry.Unblock)
}

func (s *Server) registryMutation(w http.ResponseWriter, req *RPCRequest, op func(caller, addr crypto.Address) error) int {
	var params registryRoleParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	caller, target, status := s.parseCallerTarget(w, req, params.Caller, params.Address)
	if status != 0 {
		return status
	}
	if err := s.finalizeWrite(op(caller, target)); err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, true)
	return http.StatusOK
}

// parseCallerTarget decodes the two address fields shared by registry
// mutations. A non-zero status means the error response was already written.
func (s *Server) parseCallerTarget(w http.ResponseWriter, req *RPCRequest, rawCaller, rawTarget string) (crypto.Address, crypto.Address, int) {
	caller, err := parseAddress(rawCaller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("caller: %v", err), nil)
		return crypto.Address{}, crypto.Address{}, http.StatusBadRequest
	}
	target, err := parseAddress(rawTarget)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("address: %v", err), nil)
		return crypto.Address{}, crypto.Address{}, http.StatusBadRequest
	}
	return caller, target, 0
}
