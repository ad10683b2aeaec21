package api

import (
	"github.com/google/uuid"
	"github.com/leafsii/eusd-engine/internal/engine"
	"github.com/shopspring/decimal"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type HealthDTO struct {
	Status  string   `json:"status"`
	Reasons []string `json:"reasons"`
}

type ReadyDTO struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type EventsDTO struct {
	Items      []engine.Event `json:"items"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

type OracleReportResponse struct {
	Accepted bool   `json:"accepted"`
	Price    string `json:"price"`
}

// Admin API types
type SetParamRequest struct {
	Param string          `json:"param"`
	Value decimal.Decimal `json:"value"`
}

type HaltRequest struct {
	Halted bool `json:"halted"`
}

type IssueVenueRequest struct {
	Name string `json:"name"`
}

type AdminResponse struct {
	Params engine.Params `json:"params"`
	Halted bool          `json:"halted"`
}

// JSON-RPC method parameters

type BootstrapParams struct {
	Deposit engine.Bucket `json:"deposit"`
}

type OpenParams struct {
	Fee engine.Bucket `json:"fee"`
}

type MintParams struct {
	Token      engine.PositionToken `json:"token"`
	DebtShares decimal.Decimal      `json:"debtShares"`
}

type BurnParams struct {
	Token   engine.PositionToken `json:"token"`
	Payment engine.Bucket        `json:"payment"`
}

type CollateralizeParams struct {
	Token   engine.PositionToken `json:"token"`
	Deposit engine.Bucket        `json:"deposit"`
}

type UncollateralizeParams struct {
	Token  engine.PositionToken `json:"token"`
	Shares decimal.Decimal      `json:"shares"`
}

type LiquidateParams struct {
	Target     uuid.UUID            `json:"target"`
	Liquidator engine.PositionToken `json:"liquidator"`
}

type InjectAssetsParams struct {
	Deposit engine.Bucket `json:"deposit"`
}

type PokeParams struct {
	Spot decimal.Decimal `json:"spot"`
}

// WokeParams direction is true to expand supply, false to contract it
type WokeParams struct {
	Venue       engine.VenueToken `json:"venue"`
	Size        decimal.Decimal   `json:"size"`
	MaxToTarget decimal.Decimal   `json:"maxToTarget"`
	Direction   engine.Direction  `json:"direction"`
}

type ChokeParams struct {
	Venue     engine.VenueToken `json:"venue"`
	Returned  engine.Bucket     `json:"returned"`
	Profit    engine.Bucket     `json:"profit"`
	Direction engine.Direction  `json:"direction"`
}

type FlashLoanStartParams struct {
	Size  decimal.Decimal `json:"size"`
	Asset engine.Asset    `json:"asset"`
}

type FlashMintStartParams struct {
	Size decimal.Decimal `json:"size"`
}

// FlashEndParams names the receipt by the index of the batch step that issued it
type FlashEndParams struct {
	Repayment engine.Bucket `json:"repayment"`
	Receipt   int           `json:"receipt"`
}

// JSON-RPC method results

type TokenResult struct {
	Token  engine.PositionToken `json:"token"`
	Minted *engine.Bucket       `json:"minted,omitempty"`
}

type MintResult struct {
	Minted engine.Bucket `json:"minted"`
}

type BurnResult struct {
	DebtShares decimal.Decimal `json:"debtShares"`
}

type CollateralizeResult struct {
	CollateralShares decimal.Decimal `json:"collateralShares"`
}

type UncollateralizeResult struct {
	Payout []engine.Bucket `json:"payout"`
}

type PokeResult struct {
	Correction *engine.Correction `json:"correction"`
}

type WokeResult struct {
	Released *engine.Bucket `json:"released"`
}

type ReceiptDTO struct {
	Index     int             `json:"index"`
	Kind      string          `json:"kind"`
	Size      decimal.Decimal `json:"size"`
	Repayment decimal.Decimal `json:"repayment"`
}

type FlashStartResult struct {
	Payout  engine.Bucket `json:"payout"`
	Receipt ReceiptDTO    `json:"receipt"`
}

type OKResult struct {
	OK bool `json:"ok"`
}

type AtomicResult struct {
	Results []interface{} `json:"results"`
}
