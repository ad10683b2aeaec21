package engine

import "errors"

var (
	ErrBelowMinimumCollateralization = errors.New("below minimum collateralization")
	ErrNegativeLiabilities           = errors.New("negative liabilities")
	ErrIssuanceCeilingExceeded       = errors.New("issuance ceiling exceeded")
	ErrInsufficientBacking           = errors.New("insufficient backing")
	ErrStaleOracle                   = errors.New("stale oracle")
	ErrFlashAlreadyActive            = errors.New("flash already active")
	ErrUnauthorized                  = errors.New("unauthorized")

	ErrHalted                  = errors.New("engine halted")
	ErrNotBootstrapped         = errors.New("ledger not bootstrapped")
	ErrAlreadyBootstrapped     = errors.New("ledger already bootstrapped")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrWrongAsset              = errors.New("wrong asset")
	ErrInsufficientShares      = errors.New("insufficient collateral shares")
	ErrPositionNotFound        = errors.New("position not found")
	ErrSelfLiquidation         = errors.New("position cannot liquidate itself")
	ErrFlashNotActive          = errors.New("flash not active")
	ErrInsufficientRepayment   = errors.New("insufficient flash repayment")
	ErrReceiptConsumed         = errors.New("flash receipt already consumed")
	ErrWrongReceipt            = errors.New("flash receipt does not match")
	ErrUnredeemedReceipt       = errors.New("flash receipt not redeemed before operation end")
	ErrOracleSecondaryTooEarly = errors.New("secondary oracle source may not write yet")
	ErrCorrectionPending       = errors.New("peg correction awaiting choke")
	ErrCorrectionMismatch      = errors.New("choke does not match pending correction")
	ErrUnsettledCorrection     = errors.New("peg correction not settled before operation end")
	ErrInvalidParam            = errors.New("invalid parameter")
	ErrTxnClosed               = errors.New("operation already finished")
	ErrLedgerCorrupted         = errors.New("ledger corrupted")
)
