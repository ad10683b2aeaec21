package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Asset identifies one of the resources the engine moves around
type Asset string

const (
	AssetBase       Asset = "XRD"  // directly held base asset
	AssetDerivative Asset = "EXRD" // yield-bearing liquid-staked derivative
	AssetStable     Asset = "EUSD" // the pegged stablecoin
)

func (a Asset) IsCollateral() bool {
	return a == AssetBase || a == AssetDerivative
}

// Bucket is an amount of a single asset handed into or out of the engine
type Bucket struct {
	Asset  Asset           `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

func NewBucket(asset Asset, amount decimal.Decimal) Bucket {
	return Bucket{Asset: asset, Amount: amount}
}

func (b Bucket) IsEmpty() bool {
	return !b.Amount.IsPositive()
}

func (b Bucket) String() string {
	return fmt.Sprintf("%s %s", b.Amount, b.Asset)
}

// Params holds the protocol parameters. The first seven are adjustable by the authority.
type Params struct {
	EP            decimal.Decimal `json:"ep"`             // emergency ratio, collateral release threshold
	MCR           decimal.Decimal `json:"mcr"`            // minimum collateralization ratio
	BP            decimal.Decimal `json:"bp"`             // backstop ratio, peg-up minting threshold
	LowerBound    decimal.Decimal `json:"lower_bound"`    // tolerated depeg below the oracle
	UpperBound    decimal.Decimal `json:"upper_bound"`    // tolerated depeg above the oracle
	MaxMint       decimal.Decimal `json:"max_mint"`       // issuance ceiling on liabilities_value_total
	FlashFee      decimal.Decimal `json:"flash_fee"`      // flash repayment multiplier
	OpenFee       decimal.Decimal `json:"open_fee"`       // base asset paid to open a position
	DustFloor     decimal.Decimal `json:"dust_floor"`     // USD value under which positions are liquidatable
	BootstrapDebt decimal.Decimal `json:"bootstrap_debt"` // debt seeded by the first position
	Incentive     decimal.Decimal `json:"incentive"`      // liquidator share of seized collateral shares

	OracleStaleness time.Duration `json:"oracle_staleness"`
	OracleFailover  time.Duration `json:"oracle_failover"`
}

// DefaultParams mirrors the values the protocol launched with
func DefaultParams() Params {
	return Params{
		EP:              decimal.NewFromFloat(1.3),
		MCR:             decimal.NewFromFloat(1.5),
		BP:              decimal.NewFromInt(2),
		LowerBound:      decimal.NewFromFloat(0.95),
		UpperBound:      decimal.NewFromFloat(1.05),
		MaxMint:         decimal.NewFromInt(1_000_000),
		FlashFee:        decimal.NewFromFloat(1.001),
		OpenFee:         decimal.NewFromInt(1),
		DustFloor:       decimal.NewFromInt(30),
		BootstrapDebt:   decimal.NewFromInt(777),
		Incentive:       decimal.NewFromFloat(0.01),
		OracleStaleness: 5 * time.Minute,
		OracleFailover:  30 * time.Minute,
	}
}

// ParamIndex selects a governance-adjustable parameter
type ParamIndex int

const (
	ParamEP ParamIndex = iota
	ParamMCR
	ParamBP
	ParamLowerBound
	ParamUpperBound
	ParamMaxMint
	ParamFlashFee
)

func (i ParamIndex) String() string {
	switch i {
	case ParamEP:
		return "ep"
	case ParamMCR:
		return "mcr"
	case ParamBP:
		return "bp"
	case ParamLowerBound:
		return "lower_bound"
	case ParamUpperBound:
		return "upper_bound"
	case ParamMaxMint:
		return "max_mint"
	case ParamFlashFee:
		return "flash_fee"
	default:
		return fmt.Sprintf("param(%d)", int(i))
	}
}

// ParseParamIndex resolves a parameter by the name String returns
func ParseParamIndex(name string) (ParamIndex, bool) {
	for i := ParamEP; i <= ParamFlashFee; i++ {
		if i.String() == name {
			return i, true
		}
	}
	return 0, false
}

// Position is one CDP's claim on the collateral and debt pools
type Position struct {
	ID               uuid.UUID       `json:"id"`
	CollateralShares decimal.Decimal `json:"collateral_shares"`
	DebtShares       decimal.Decimal `json:"debt_shares"`
	OpenedAt         time.Time       `json:"opened_at"`
}

// Direction of a peg correction. Expand means the market price is too high
// and the engine sells newly minted stablecoin; Contract means it is too low
// and the engine releases collateral to buy stablecoin back.
type Direction bool

const (
	Expand   Direction = true
	Contract Direction = false
)

func (d Direction) String() string {
	if d == Expand {
		return "expand"
	}
	return "contract"
}

// Correction is what poke asks the venue to move the price to
type Correction struct {
	Target    decimal.Decimal `json:"target"`
	Direction Direction       `json:"direction"`
}

// LiquidationResult reports what a liquidate call did
type LiquidationResult struct {
	Liquidated  bool            `json:"liquidated"`
	Incentive   decimal.Decimal `json:"incentive"`
	Remainder   decimal.Decimal `json:"remainder"`
	Seized      decimal.Decimal `json:"seized"`
	WrittenOff  decimal.Decimal `json:"written_off"`
	DebtCleared decimal.Decimal `json:"debt_cleared"`
}

// State is a read-only view of the ledger totals and derived prices
type State struct {
	BasePool              decimal.Decimal `json:"base_pool"`
	DerivativePool        decimal.Decimal `json:"derivative_pool"`
	AssetsShareTotal      decimal.Decimal `json:"assets_share_total"`
	LiabilitiesShareTotal decimal.Decimal `json:"liabilities_share_total"`
	LiabilitiesValueTotal decimal.Decimal `json:"liabilities_value_total"`
	Supply                decimal.Decimal `json:"supply"`
	RedemptionRate        decimal.Decimal `json:"redemption_rate"`

	OraclePrice     decimal.Decimal `json:"oracle_price"`
	OracleUpdatedAt time.Time       `json:"oracle_updated_at"`
	OracleFresh     bool            `json:"oracle_fresh"`

	CollateralValueBase      decimal.Decimal `json:"collateral_value_base"`
	CollateralValueUSD       decimal.Decimal `json:"collateral_value_usd"`
	CollateralSharePriceBase decimal.Decimal `json:"collateral_share_price_base"`
	CollateralSharePriceUSD  decimal.Decimal `json:"collateral_share_price_usd"`
	DebtSharePrice           decimal.Decimal `json:"debt_share_price"`
	TCR                      decimal.Decimal `json:"tcr"`

	Params     Params    `json:"params"`
	Halted     bool      `json:"halted"`
	LoanActive bool      `json:"loan_active"`
	MintActive bool      `json:"mint_active"`
	Positions  int       `json:"positions"`
	AsOf       time.Time `json:"as_of"`
}
