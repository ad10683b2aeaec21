package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/leafsii/eusd-engine/internal/engine"
	"github.com/shopspring/decimal"
)

const maxAtomicSteps = 64

type rpcError struct {
	code    int
	message string
	detail  string
}

func (e *rpcError) Error() string {
	return e.message + ": " + e.detail
}

func invalidParams(format string, args ...interface{}) error {
	return &rpcError{code: JSONRPCInvalidParams, message: "Invalid params", detail: fmt.Sprintf(format, args...)}
}

func methodNotFound(method string) error {
	return &rpcError{code: JSONRPCMethodNotFound, message: "Method not found", detail: fmt.Sprintf("Method '%s' not found", method)}
}

// stepError tags a failure with the batch step that raised it
type stepError struct {
	index int
	err   error
}

func (e *stepError) Error() string {
	return fmt.Sprintf("step %d: %v", e.index, e.err)
}

func (e *stepError) Unwrap() error {
	return e.err
}

// HandleJSONRPC handles JSON-RPC 2.0 requests. Every call runs as one
// atomic engine operation; "atomic" runs a list of calls as a single one.
func (h *Handler) HandleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var req JSONRPCRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		h.sendJSONRPCError(w, nil, JSONRPCParseError, "Parse error", err.Error())
		return
	}

	if req.JSONRPC != "2.0" {
		h.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "Invalid Request", "jsonrpc must be '2.0'")
		return
	}

	ctx := r.Context()
	result, b, err := h.dispatch(ctx, req.Method, req.Params)
	if err != nil {
		h.sendJSONRPCFailure(w, req, err)
		return
	}

	h.protocol.Invalidate(ctx, b.touched...)
	if b.spot.IsPositive() {
		h.protocol.ObserveSpot(b.spot)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
	})
}

func (h *Handler) dispatch(ctx context.Context, method string, raw json.RawMessage) (interface{}, *batch, error) {
	b := newBatch()

	if method != "atomic" {
		if !knownMethods[method] {
			return nil, nil, methodNotFound(method)
		}
		var result interface{}
		err := h.engine.AtomicOp(ctx, method, func(tx *engine.Txn) error {
			var err error
			result, err = b.run(tx, 0, method, raw)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		return result, b, nil
	}

	var p AtomicParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, nil, err
	}
	if len(p.Steps) == 0 {
		return nil, nil, invalidParams("steps required")
	}
	if len(p.Steps) > maxAtomicSteps {
		return nil, nil, invalidParams("at most %d steps per batch", maxAtomicSteps)
	}

	results := make([]interface{}, 0, len(p.Steps))
	err := h.engine.Atomic(ctx, func(tx *engine.Txn) error {
		for i, step := range p.Steps {
			if !knownMethods[step.Method] {
				return &stepError{index: i, err: methodNotFound(step.Method)}
			}
			res, err := b.run(tx, i, step.Method, step.Params)
			if err != nil {
				return &stepError{index: i, err: err}
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return AtomicResult{Results: results}, b, nil
}

var knownMethods = map[string]bool{
	"bootstrap":       true,
	"open":            true,
	"mint":            true,
	"burn":            true,
	"collateralize":   true,
	"uncollateralize": true,
	"liquidate":       true,
	"injectAssets":    true,
	"poke":            true,
	"woke":            true,
	"choke":           true,
	"flashLoanStart":  true,
	"flashLoanEnd":    true,
	"flashMintStart":  true,
	"flashMintEnd":    true,
}

// batch carries what one atomic operation produced across its steps
type batch struct {
	receipts map[int]*engine.FlashReceipt
	touched  []uuid.UUID
	spot     decimal.Decimal
}

func newBatch() *batch {
	return &batch{receipts: make(map[int]*engine.FlashReceipt)}
}

func (b *batch) touch(ids ...uuid.UUID) {
	b.touched = append(b.touched, ids...)
}

func (b *batch) receipt(index int) (*engine.FlashReceipt, error) {
	r, ok := b.receipts[index]
	if !ok {
		return nil, invalidParams("no flash receipt issued by step %d", index)
	}
	return r, nil
}

func receiptDTO(index int, r *engine.FlashReceipt) ReceiptDTO {
	return ReceiptDTO{
		Index:     index,
		Kind:      r.Kind().String(),
		Size:      r.Size(),
		Repayment: r.Repayment(),
	}
}

func (b *batch) run(tx *engine.Txn, index int, method string, raw json.RawMessage) (interface{}, error) {
	switch method {
	case "bootstrap":
		var p BootstrapParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		tok, minted, err := tx.Bootstrap(p.Deposit)
		if err != nil {
			return nil, err
		}
		b.touch(tok.ID)
		return TokenResult{Token: tok, Minted: &minted}, nil

	case "open":
		var p OpenParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		tok, err := tx.Open(p.Fee)
		if err != nil {
			return nil, err
		}
		b.touch(tok.ID)
		return TokenResult{Token: tok}, nil

	case "mint":
		var p MintParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		minted, err := tx.Mint(p.Token, p.DebtShares)
		if err != nil {
			return nil, err
		}
		b.touch(p.Token.ID)
		return MintResult{Minted: minted}, nil

	case "burn":
		var p BurnParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		shares, err := tx.Burn(p.Token, p.Payment)
		if err != nil {
			return nil, err
		}
		b.touch(p.Token.ID)
		return BurnResult{DebtShares: shares}, nil

	case "collateralize":
		var p CollateralizeParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		shares, err := tx.Collateralize(p.Token, p.Deposit)
		if err != nil {
			return nil, err
		}
		b.touch(p.Token.ID)
		return CollateralizeResult{CollateralShares: shares}, nil

	case "uncollateralize":
		var p UncollateralizeParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		payout, err := tx.Uncollateralize(p.Token, p.Shares)
		if err != nil {
			return nil, err
		}
		b.touch(p.Token.ID)
		return UncollateralizeResult{Payout: payout}, nil

	case "liquidate":
		var p LiquidateParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		res, err := tx.Liquidate(p.Target, p.Liquidator)
		if err != nil {
			return nil, err
		}
		b.touch(p.Target, p.Liquidator.ID)
		return res, nil

	case "injectAssets":
		var p InjectAssetsParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if err := tx.InjectAssets(p.Deposit); err != nil {
			return nil, err
		}
		return OKResult{OK: true}, nil

	case "poke":
		var p PokeParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		c, ok, err := tx.Poke(p.Spot)
		if err != nil {
			return nil, err
		}
		b.spot = p.Spot
		if !ok {
			return PokeResult{}, nil
		}
		return PokeResult{Correction: &c}, nil

	case "woke":
		var p WokeParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		out, ok, err := tx.Woke(p.Venue, p.Size, p.MaxToTarget, p.Direction)
		if err != nil {
			return nil, err
		}
		if !ok {
			return WokeResult{}, nil
		}
		return WokeResult{Released: &out}, nil

	case "choke":
		var p ChokeParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if err := tx.Choke(p.Venue, p.Returned, p.Profit, p.Direction); err != nil {
			return nil, err
		}
		return OKResult{OK: true}, nil

	case "flashLoanStart":
		var p FlashLoanStartParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		payout, r, err := tx.FlashLoanStart(p.Size, p.Asset)
		if err != nil {
			return nil, err
		}
		b.receipts[index] = r
		return FlashStartResult{Payout: payout, Receipt: receiptDTO(index, r)}, nil

	case "flashMintStart":
		var p FlashMintStartParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		payout, r, err := tx.FlashMintStart(p.Size)
		if err != nil {
			return nil, err
		}
		b.receipts[index] = r
		return FlashStartResult{Payout: payout, Receipt: receiptDTO(index, r)}, nil

	case "flashLoanEnd", "flashMintEnd":
		var p FlashEndParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		r, err := b.receipt(p.Receipt)
		if err != nil {
			return nil, err
		}
		if method == "flashLoanEnd" {
			err = tx.FlashLoanEnd(p.Repayment, r)
		} else {
			err = tx.FlashMintEnd(p.Repayment, r)
		}
		if err != nil {
			return nil, err
		}
		return OKResult{OK: true}, nil
	}
	return nil, methodNotFound(method)
}

// decodeParams rejects missing params and unknown fields
func decodeParams(raw json.RawMessage, dst interface{}) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return invalidParams("params required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalidParams("%v", err)
	}
	return nil
}

func (h *Handler) sendJSONRPCFailure(w http.ResponseWriter, req JSONRPCRequest, err error) {
	var step *int
	var se *stepError
	if errors.As(err, &se) {
		i := se.index
		step = &i
	}

	var re *rpcError
	if errors.As(err, &re) {
		var data interface{} = re.detail
		if step != nil {
			data = OperationErrorData{Reason: "INVALID_STEP", Message: re.detail, Step: step}
		}
		h.sendJSONRPCError(w, req.ID, re.code, re.message, data)
		return
	}

	reason, _ := classify(err)
	h.logger.Debugw("JSON-RPC operation failed", "method", req.Method, "reason", reason, "error", err)
	h.sendJSONRPCError(w, req.ID, JSONRPCOperationFailed, "Operation failed", OperationErrorData{
		Reason:  reason,
		Message: err.Error(),
		Step:    step,
	})
}

func (h *Handler) sendJSONRPCError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	errorResp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // JSON-RPC errors are sent with HTTP 200
	json.NewEncoder(w).Encode(errorResp)
}
