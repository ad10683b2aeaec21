package api

import (
	"errors"
	"net/http"

	"github.com/leafsii/eusd-engine/internal/engine"
	"github.com/leafsii/eusd-engine/internal/oracle"
)

type errorClass struct {
	err    error
	reason string
	status int
}

// errorClasses maps domain errors to API reasons. Order matters where one
// error wraps another.
var errorClasses = []errorClass{
	{engine.ErrUnauthorized, "UNAUTHORIZED", http.StatusForbidden},
	{engine.ErrHalted, "HALTED", http.StatusServiceUnavailable},
	{engine.ErrStaleOracle, "STALE_ORACLE", http.StatusServiceUnavailable},
	{engine.ErrPositionNotFound, "POSITION_NOT_FOUND", http.StatusNotFound},
	{engine.ErrBelowMinimumCollateralization, "BELOW_MINIMUM_COLLATERALIZATION", http.StatusUnprocessableEntity},
	{engine.ErrNegativeLiabilities, "NEGATIVE_LIABILITIES", http.StatusUnprocessableEntity},
	{engine.ErrIssuanceCeilingExceeded, "ISSUANCE_CEILING_EXCEEDED", http.StatusUnprocessableEntity},
	{engine.ErrInsufficientBacking, "INSUFFICIENT_BACKING", http.StatusUnprocessableEntity},
	{engine.ErrFlashAlreadyActive, "FLASH_ALREADY_ACTIVE", http.StatusConflict},
	{engine.ErrFlashNotActive, "FLASH_NOT_ACTIVE", http.StatusConflict},
	{engine.ErrNotBootstrapped, "NOT_BOOTSTRAPPED", http.StatusConflict},
	{engine.ErrAlreadyBootstrapped, "ALREADY_BOOTSTRAPPED", http.StatusConflict},
	{engine.ErrInvalidAmount, "INVALID_AMOUNT", http.StatusBadRequest},
	{engine.ErrWrongAsset, "WRONG_ASSET", http.StatusBadRequest},
	{engine.ErrInsufficientShares, "INSUFFICIENT_SHARES", http.StatusUnprocessableEntity},
	{engine.ErrSelfLiquidation, "SELF_LIQUIDATION", http.StatusBadRequest},
	{engine.ErrInsufficientRepayment, "INSUFFICIENT_REPAYMENT", http.StatusUnprocessableEntity},
	{engine.ErrReceiptConsumed, "RECEIPT_CONSUMED", http.StatusConflict},
	{engine.ErrWrongReceipt, "WRONG_RECEIPT", http.StatusBadRequest},
	{engine.ErrUnredeemedReceipt, "UNREDEEMED_RECEIPT", http.StatusUnprocessableEntity},
	{engine.ErrOracleSecondaryTooEarly, "ORACLE_SECONDARY_TOO_EARLY", http.StatusConflict},
	{engine.ErrCorrectionPending, "CORRECTION_PENDING", http.StatusConflict},
	{engine.ErrCorrectionMismatch, "CORRECTION_MISMATCH", http.StatusBadRequest},
	{engine.ErrUnsettledCorrection, "UNSETTLED_CORRECTION", http.StatusUnprocessableEntity},
	{engine.ErrInvalidParam, "INVALID_PARAM", http.StatusBadRequest},
	{engine.ErrLedgerCorrupted, "LEDGER_CORRUPTED", http.StatusInternalServerError},

	{oracle.ErrUnknownSigner, "UNKNOWN_SIGNER", http.StatusForbidden},
	{oracle.ErrBadSignature, "BAD_SIGNATURE", http.StatusBadRequest},
	{oracle.ErrMalformedReport, "MALFORMED_REPORT", http.StatusBadRequest},
	{oracle.ErrWrongSymbol, "WRONG_SYMBOL", http.StatusBadRequest},
	{oracle.ErrReportTooOld, "REPORT_TOO_OLD", http.StatusUnprocessableEntity},
	{oracle.ErrReportFromFuture, "REPORT_FROM_FUTURE", http.StatusUnprocessableEntity},
	{oracle.ErrReplayedReport, "REPLAYED_REPORT", http.StatusConflict},
}

// classify returns the API reason and HTTP status for err
func classify(err error) (string, int) {
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c.reason, c.status
		}
	}
	return "INTERNAL_ERROR", http.StatusInternalServerError
}
