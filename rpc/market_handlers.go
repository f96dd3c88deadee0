package rpc

import (
	"math/big"
	"net/http"

	"marketvault/crypto"
)

type marketAccountParams struct {
	Address string `json:"address"`
}

type marketAmountParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type marketBatchParams struct {
	Expiry uint64 `json:"expiry"`
}

type marketStatusParams struct {
	Address string `json:"address"`
	Expiry  uint64 `json:"expiry"`
}

type marketExecuteParams struct {
	Lender string `json:"lender"`
	Expiry uint64 `json:"expiry"`
}

type marketCollectFeesParams struct {
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type marketSetBipsParams struct {
	Caller string `json:"caller"`
	Bips   uint64 `json:"bips"`
}

type marketStateResult struct {
	MaxTotalSupply           string `json:"maxTotalSupply"`
	TotalSupply              string `json:"totalSupply"`
	ScaledTotalSupply        string `json:"scaledTotalSupply"`
	ScaledPendingWithdrawals string `json:"scaledPendingWithdrawals"`
	AccruedProtocolFees      string `json:"accruedProtocolFees"`
	ReservedAssets           string `json:"reservedAssets"`
	ScaleFactor              string `json:"scaleFactor"`
	AnnualInterestBips       uint64 `json:"annualInterestBips"`
	LiquidityCoverageBips    uint64 `json:"liquidityCoverageBips"`
	DelinquencyFeeBips       uint64 `json:"delinquencyFeeBips"`
	DelinquencyGracePeriod   uint64 `json:"delinquencyGracePeriod"`
	ProtocolFeeBips          uint64 `json:"protocolFeeBips"`
	IsDelinquent             bool   `json:"isDelinquent"`
	TimeDelinquent           uint64 `json:"timeDelinquent"`
	LastAccrual              uint64 `json:"lastAccrual"`
	PendingWithdrawalExpiry  uint64 `json:"pendingWithdrawalExpiry"`
}

type marketBatchResult struct {
	Expiry               uint64 `json:"expiry"`
	ScaledTotalAmount    string `json:"scaledTotalAmount"`
	ScaledAmountBurned   string `json:"scaledAmountBurned"`
	NormalizedAmountPaid string `json:"normalizedAmountPaid"`
	Closed               bool   `json:"closed"`
}

type marketStatusResult struct {
	Expiry                    uint64 `json:"expiry"`
	ScaledAmount              string `json:"scaledAmount"`
	NormalizedAmountWithdrawn string `json:"normalizedAmountWithdrawn"`
}

type marketAmountResult struct {
	Amount string `json:"amount"`
}

type marketExpiryResult struct {
	Expiry uint64 `json:"expiry"`
}

func (s *Server) handleMarketState(w http.ResponseWriter, req *RPCRequest) int {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return http.StatusBadRequest
	}
	st, err := s.engine.CurrentState()
	if err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	supply, err := st.TotalSupply()
	if err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, marketStateResult{
		MaxTotalSupply:           st.MaxTotalSupply.String(),
		TotalSupply:              supply.String(),
		ScaledTotalSupply:        st.ScaledTotalSupply.String(),
		ScaledPendingWithdrawals: st.ScaledPendingWithdrawals.String(),
		AccruedProtocolFees:      st.AccruedProtocolFees.String(),
		ReservedAssets:           st.ReservedAssets.String(),
		ScaleFactor:              st.ScaleFactor.String(),
		AnnualInterestBips:       st.AnnualInterestBips,
		LiquidityCoverageBips:    st.LiquidityCoverageBips,
		DelinquencyFeeBips:       st.DelinquencyFeeBips,
		DelinquencyGracePeriod:   st.DelinquencyGracePeriod,
		ProtocolFeeBips:          st.ProtocolFeeBips,
		IsDelinquent:             st.IsDelinquent,
		TimeDelinquent:           st.TimeDelinquent,
		LastAccrual:              st.LastAccrual,
		PendingWithdrawalExpiry:  st.PendingWithdrawalExpiry,
	})
	return http.StatusOK
}

func (s *Server) handleMarketTotalSupply(w http.ResponseWriter, req *RPCRequest) int {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return http.StatusBadRequest
	}
	supply, err := s.engine.TotalSupply()
	if err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, marketAmountResult{Amount: supply.String()})
	return http.StatusOK
}

func (s *Server) handleMarketMaximumDeposit(w http.ResponseWriter, req *RPCRequest) int {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return http.StatusBadRequest
	}
	headroom, err := s.engine.MaximumDeposit()
	if err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, marketAmountResult{Amount: headroom.String()})
	return http.StatusOK
}

func (s *Server) handleMarketBalanceOf(w http.ResponseWriter, req *RPCRequest) int {
	var params marketAccountParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	balance, err := s.engine.BalanceOf(addr)
	if err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, marketAmountResult{Amount: balance.String()})
	return http.StatusOK
}

func (s *Server) handleMarketGetWithdrawalBatch(w http.ResponseWriter, req *RPCRequest) int {
	var params marketBatchParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	batch, err := s.engine.GetWithdrawalBatch(params.Expiry)
	if err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, marketBatchResult{
		Expiry:               params.Expiry,
		ScaledTotalAmount:    batch.ScaledTotalAmount.String(),
		ScaledAmountBurned:   batch.ScaledAmountBurned.String(),
		NormalizedAmountPaid: batch.NormalizedAmountPaid.String(),
		Closed:               batch.IsClosed(),
	})
	return http.StatusOK
}

func (s *Server) handleMarketGetAccountWithdrawalStatus(w http.ResponseWriter, req *RPCRequest) int {
	var params marketStatusParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	status, err := s.engine.GetAccountWithdrawalStatus(addr, params.Expiry)
	if err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, marketStatusResult{
		Expiry:                    params.Expiry,
		ScaledAmount:              status.ScaledAmount.String(),
		NormalizedAmountWithdrawn: status.NormalizedAmountWithdrawn.String(),
	})
	return http.StatusOK
}

func (s *Server) handleMarketGetAvailableWithdrawalAmount(w http.ResponseWriter, req *RPCRequest) int {
	var params marketStatusParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	amount, err := s.engine.GetAvailableWithdrawalAmount(addr, params.Expiry)
	if err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, marketAmountResult{Amount: amount.String()})
	return http.StatusOK
}

func (s *Server) handleMarketGetUnpaidBatchExpiries(w http.ResponseWriter, req *RPCRequest) int {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return http.StatusBadRequest
	}
	expiries, err := s.engine.GetUnpaidBatchExpiries()
	if err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	if expiries == nil {
		expiries = []uint64{}
	}
	writeResult(w, req.ID, expiries)
	return http.StatusOK
}

func (s *Server) handleMarketDeposit(w http.ResponseWriter, req *RPCRequest) int {
	return s.depositHandler(w, req, s.engine.Deposit)
}

func (s *Server) handleMarketDepositUpTo(w http.ResponseWriter, req *RPCRequest) int {
	return s.depositHandler(w, req, s.engine.DepositUpTo)
}

func (s *Server) depositHandler(w http.ResponseWriter, req *RPCRequest, op func(crypto.Address, *big.Int) (*big.Int, error)) int {
	var params marketAmountParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	lender, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	accepted, err := op(lender, amount)
	if err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, marketAmountResult{Amount: accepted.String()})
	return http.StatusOK
}

func (s *Server) handleMarketQueueWithdrawal(w http.ResponseWriter, req *RPCRequest) int {
	var params marketAmountParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	lender, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	expiry, err := s.engine.QueueWithdrawal(lender, amount)
	if err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, marketExpiryResult{Expiry: expiry})
	return http.StatusOK
}

func (s *Server) handleMarketExecuteWithdrawal(w http.ResponseWriter, req *RPCRequest) int {
	var params marketExecuteParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	lender, err := parseAddress(params.Lender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	paid, err := s.engine.ExecuteWithdrawal(lender, params.Expiry)
	if err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, marketAmountResult{Amount: paid.String()})
	return http.StatusOK
}

func (s *Server) handleMarketProcessUnpaidWithdrawalBatch(w http.ResponseWriter, req *RPCRequest) int {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return http.StatusBadRequest
	}
	paid, err := s.engine.ProcessUnpaidWithdrawalBatch()
	if err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, marketAmountResult{Amount: paid.String()})
	return http.StatusOK
}

func (s *Server) handleMarketBorrow(w http.ResponseWriter, req *RPCRequest) int {
	return s.ledgerMoveHandler(w, req, s.engine.Borrow)
}

func (s *Server) handleMarketRepay(w http.ResponseWriter, req *RPCRequest) int {
	return s.ledgerMoveHandler(w, req, s.engine.Repay)
}

func (s *Server) ledgerMoveHandler(w http.ResponseWriter, req *RPCRequest, op func(crypto.Address, *big.Int) error) int {
	var params marketAmountParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	if err := op(caller, amount); err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, true)
	return http.StatusOK
}

func (s *Server) handleMarketCollectFees(w http.ResponseWriter, req *RPCRequest) int {
	var params marketCollectFeesParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	recipient, err := parseAddress(params.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	if err := s.engine.CollectFees(caller, recipient, amount); err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, true)
	return http.StatusOK
}

func (s *Server) handleMarketSetMaxTotalSupply(w http.ResponseWriter, req *RPCRequest) int {
	var params marketAmountParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	value, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	if err := s.engine.SetMaxTotalSupply(caller, value); err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, true)
	return http.StatusOK
}

func (s *Server) handleMarketSetAnnualInterestBips(w http.ResponseWriter, req *RPCRequest) int {
	return s.setBipsHandler(w, req, s.engine.SetAnnualInterestBips)
}

func (s *Server) handleMarketSetLiquidityCoverageRatio(w http.ResponseWriter, req *RPCRequest) int {
	return s.setBipsHandler(w, req, s.engine.SetLiquidityCoverageRatio)
}

func (s *Server) setBipsHandler(w http.ResponseWriter, req *RPCRequest, op func(crypto.Address, uint64) error) int {
	var params marketSetBipsParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	}
	if err := op(caller, params.Bips); err != nil {
		return s.writeModuleError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, true)
	return http.StatusOK
}
