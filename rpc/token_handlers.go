package rpc

import (
	"net/http"
)

type tokenAccountParams struct {
	Address string `json:"address"`
}

type tokenAllowanceParams struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
}

type tokenMintParams struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type tokenApproveParams struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type tokenTransferParams struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) handleTokenBalanceOf(w http.ResponseWriter, req *RPCRequest) int {
	var params tokenAccountParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	balance, err := s.ledger.BalanceOf(addr)
	if err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, marketAmountResult{Amount: balance.String()})
	return http.StatusOK
}

func (s *Server) handleTokenAllowance(w http.ResponseWriter, req *RPCRequest) int {
	var params tokenAllowanceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	spender, err := parseAddress(params.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	allowance, err := s.ledger.Allowance(owner, spender)
	if err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, marketAmountResult{Amount: allowance.String()})
	return http.StatusOK
}

func (s *Server) handleTokenMint(w http.ResponseWriter, req *RPCRequest) int {
	var params tokenMintParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	if err := s.finalizeWrite(s.ledger.Mint(addr, amount)); err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, true)
	return http.StatusOK
}

func (s *Server) handleTokenApprove(w http.ResponseWriter, req *RPCRequest) int {
	var params tokenApproveParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	spender, err := parseAddress(params.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	if err := s.finalizeWrite(s.ledger.Approve(owner, spender, amount)); err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, true)
	return http.StatusOK
}

func (s *Server) handleTokenTransfer(w http.ResponseWriter, req *RPCRequest) int {
	var params tokenTransferParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	from, err := parseAddress(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	to, err := parseAddress(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	if err := s.finalizeWrite(s.ledger.Transfer(from, to, amount)); err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, true)
	return http.StatusOK
}
