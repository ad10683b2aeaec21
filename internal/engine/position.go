package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/leafsii/eusd-engine/internal/calc"
	"github.com/shopspring/decimal"
)

func (tx *Txn) active() error {
	if err := tx.open(); err != nil {
		return err
	}
	if tx.l.halted {
		return ErrHalted
	}
	return nil
}

// authorized checks the capability before any ledger state is read
func (tx *Txn) authorized(tok PositionToken) (*Position, error) {
	if err := tx.open(); err != nil {
		return nil, err
	}
	if err := tx.e.keys.checkPosition(tok); err != nil {
		return nil, err
	}
	if tx.l.halted {
		return nil, ErrHalted
	}
	return tx.l.position(tok.ID)
}

func requirePositive(op string, amount decimal.Decimal) error {
	if err := calc.ValidateAmount(amount, op); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return nil
}

// baseValue values a collateral deposit in base-asset units
func (tx *Txn) baseValue(b Bucket) (decimal.Decimal, error) {
	switch b.Asset {
	case AssetBase:
		return b.Amount, nil
	case AssetDerivative:
		return b.Amount.Mul(tx.l.rate), nil
	default:
		return decimal.Zero, fmt.Errorf("%s is not collateral: %w", b.Asset, ErrWrongAsset)
	}
}

func (tx *Txn) deposit(b Bucket) {
	if b.Asset == AssetDerivative {
		tx.l.derivative = tx.l.derivative.Add(b.Amount)
		return
	}
	tx.l.base = tx.l.base.Add(b.Amount)
}

func (tx *Txn) newPosition(collateralShares, debtShares decimal.Decimal) PositionToken {
	id := uuid.New()
	tx.l.positions[id] = &Position{
		ID:               id,
		CollateralShares: collateralShares,
		DebtShares:       debtShares,
		OpenedAt:         tx.now,
	}
	return tx.e.keys.positionToken(id)
}

// Bootstrap seeds an empty ledger. The deposit becomes the first position's
// collateral at one share per base unit and the fixed bootstrap debt is
// minted against it at one share per stablecoin. No ratio check applies, so
// bootstrap works before the first oracle update.
func (tx *Txn) Bootstrap(deposit Bucket) (PositionToken, Bucket, error) {
	if err := tx.active(); err != nil {
		return PositionToken{}, Bucket{}, err
	}
	if tx.l.bootstrapped() {
		return PositionToken{}, Bucket{}, ErrAlreadyBootstrapped
	}
	if err := requirePositive("bootstrap", deposit.Amount); err != nil {
		return PositionToken{}, Bucket{}, err
	}
	value, err := tx.baseValue(deposit)
	if err != nil {
		return PositionToken{}, Bucket{}, err
	}

	debt := tx.l.params.BootstrapDebt
	tx.deposit(deposit)
	tx.l.assetsShares = value
	tx.l.liabilityShares = debt
	tx.l.liabilityValue = debt
	tx.l.supply = tx.l.supply.Add(debt)

	tok := tx.newPosition(value, debt)
	tx.emit(EventBootstrap, tok.ID, deposit.Asset, deposit.Amount, value, "")
	tx.e.logger.Infow("Ledger bootstrapped", "position", tok.ID, "collateral", value.String(), "debt", debt.String())
	return tok, NewBucket(AssetStable, debt), nil
}

// Open creates an empty position against the opening fee, which is
// donated to the base pool.
func (tx *Txn) Open(fee Bucket) (PositionToken, error) {
	if err := tx.active(); err != nil {
		return PositionToken{}, err
	}
	if !tx.l.bootstrapped() {
		return PositionToken{}, ErrNotBootstrapped
	}
	if fee.Asset != AssetBase {
		return PositionToken{}, fmt.Errorf("opening fee in %s: %w", fee.Asset, ErrWrongAsset)
	}
	if fee.Amount.LessThan(tx.l.params.OpenFee) {
		return PositionToken{}, fmt.Errorf("opening fee %s below %s: %w", fee.Amount, tx.l.params.OpenFee, ErrInvalidAmount)
	}

	tx.deposit(fee)
	tok := tx.newPosition(decimal.Zero, decimal.Zero)
	tx.emit(EventOpen, tok.ID, fee.Asset, fee.Amount, decimal.Zero, "")
	return tok, nil
}

// Mint issues debtShares of new debt to the position and returns the stablecoin
func (tx *Txn) Mint(tok PositionToken, debtShares decimal.Decimal) (Bucket, error) {
	pos, err := tx.authorized(tok)
	if err != nil {
		return Bucket{}, err
	}
	if err := requirePositive("mint", debtShares); err != nil {
		return Bucket{}, err
	}

	amount := calc.ValueOf(debtShares, tx.l.debtSharePrice())
	newDebt := pos.DebtShares.Add(debtShares)
	if err := tx.l.checkSolvent(pos.CollateralShares, newDebt, tx.now); err != nil {
		return Bucket{}, err
	}
	if total := tx.l.liabilityValue.Add(amount); total.GreaterThan(tx.l.params.MaxMint) {
		return Bucket{}, fmt.Errorf("total debt %s above %s: %w", total, tx.l.params.MaxMint, ErrIssuanceCeilingExceeded)
	}

	tx.l.liabilityShares = tx.l.liabilityShares.Add(debtShares)
	tx.l.liabilityValue = tx.l.liabilityValue.Add(amount)
	tx.l.supply = tx.l.supply.Add(amount)
	pos.DebtShares = newDebt

	tx.emit(EventMint, pos.ID, AssetStable, amount, debtShares, "")
	return NewBucket(AssetStable, amount), nil
}

// Burn retires the payment against the position's debt and returns the debt shares removed
func (tx *Txn) Burn(tok PositionToken, payment Bucket) (decimal.Decimal, error) {
	pos, err := tx.authorized(tok)
	if err != nil {
		return decimal.Zero, err
	}
	if payment.Asset != AssetStable {
		return decimal.Zero, fmt.Errorf("burn paid in %s: %w", payment.Asset, ErrWrongAsset)
	}
	if err := requirePositive("burn", payment.Amount); err != nil {
		return decimal.Zero, err
	}

	shares := calc.SharesFor(payment.Amount, tx.l.debtSharePrice())
	if shares.GreaterThan(pos.DebtShares) {
		return decimal.Zero, fmt.Errorf("burning %s shares of %s: %w", shares, pos.DebtShares, ErrNegativeLiabilities)
	}
	if payment.Amount.GreaterThan(tx.l.supply) {
		return decimal.Zero, fmt.Errorf("burn %s exceeds supply %s: %w", payment.Amount, tx.l.supply, ErrInvalidAmount)
	}

	pos.DebtShares = pos.DebtShares.Sub(shares)
	tx.l.retireDebt(shares, payment.Amount)
	tx.l.supply = tx.l.supply.Sub(payment.Amount)

	tx.emit(EventBurn, pos.ID, AssetStable, payment.Amount, shares, "")
	return shares, nil
}

// Collateralize adds either collateral form to the position and returns the shares credited
func (tx *Txn) Collateralize(tok PositionToken, deposit Bucket) (decimal.Decimal, error) {
	pos, err := tx.authorized(tok)
	if err != nil {
		return decimal.Zero, err
	}
	if err := requirePositive("collateralize", deposit.Amount); err != nil {
		return decimal.Zero, err
	}
	value, err := tx.baseValue(deposit)
	if err != nil {
		return decimal.Zero, err
	}

	shares := calc.SharesFor(value, tx.l.collateralSharePriceBase())
	tx.deposit(deposit)
	tx.l.assetsShares = tx.l.assetsShares.Add(shares)
	pos.CollateralShares = pos.CollateralShares.Add(shares)

	tx.emit(EventCollateralize, pos.ID, deposit.Asset, deposit.Amount, shares, "")
	return shares, nil
}

// Uncollateralize withdraws shares worth of collateral, derivative first
func (tx *Txn) Uncollateralize(tok PositionToken, shares decimal.Decimal) ([]Bucket, error) {
	pos, err := tx.authorized(tok)
	if err != nil {
		return nil, err
	}
	if err := requirePositive("uncollateralize", shares); err != nil {
		return nil, err
	}
	if shares.GreaterThan(pos.CollateralShares) {
		return nil, fmt.Errorf("withdrawing %s of %s: %w", shares, pos.CollateralShares, ErrInsufficientShares)
	}

	left := pos.CollateralShares.Sub(shares)
	if err := tx.l.checkSolvent(left, pos.DebtShares, tx.now); err != nil {
		return nil, err
	}

	value := calc.ValueOf(shares, tx.l.collateralSharePriceBase())
	if shares.Equal(tx.l.assetsShares) {
		value = tx.l.collateralValueBase()
	}
	payout, err := tx.withdrawBase(value)
	if err != nil {
		return nil, err
	}

	tx.l.assetsShares = sub("assets_share_total", tx.l.assetsShares, shares)
	pos.CollateralShares = left

	for _, b := range payout {
		tx.emit(EventUncollateralize, pos.ID, b.Asset, b.Amount, shares, "")
	}
	return payout, nil
}

// withdrawBase pays value (in base units) out of the derivative pool first
// and covers any shortfall from the base pool.
func (tx *Txn) withdrawBase(value decimal.Decimal) ([]Bucket, error) {
	wantDerivative := calc.CrossValue(value, tx.l.rate, true)
	if tx.l.derivative.GreaterThanOrEqual(wantDerivative) {
		tx.l.derivative = tx.l.derivative.Sub(wantDerivative)
		return []Bucket{NewBucket(AssetDerivative, wantDerivative)}, nil
	}

	var out []Bucket
	shortfall := value.Sub(calc.CrossValue(tx.l.derivative, tx.l.rate, false))
	if shortfall.GreaterThan(tx.l.base) {
		return nil, fmt.Errorf("withdrawal of %s base units: %w", value, ErrInsufficientBacking)
	}
	if tx.l.derivative.IsPositive() {
		out = append(out, NewBucket(AssetDerivative, tx.l.derivative))
		tx.l.derivative = decimal.Zero
	}
	tx.l.base = tx.l.base.Sub(shortfall)
	return append(out, NewBucket(AssetBase, shortfall)), nil
}

// InjectAssets donates collateral to the pools without minting shares,
// raising the collateral share price for every position.
func (tx *Txn) InjectAssets(b Bucket) error {
	if err := tx.open(); err != nil {
		return err
	}
	if !b.Asset.IsCollateral() {
		return fmt.Errorf("inject %s: %w", b.Asset, ErrWrongAsset)
	}
	if err := requirePositive("inject", b.Amount); err != nil {
		return err
	}
	if !tx.l.bootstrapped() {
		return ErrNotBootstrapped
	}

	tx.deposit(b)
	tx.emit(EventInject, uuid.Nil, b.Asset, b.Amount, decimal.Zero, "")
	return nil
}

func (e *Engine) Bootstrap(ctx context.Context, deposit Bucket) (tok PositionToken, out Bucket, err error) {
	err = e.atomic(ctx, "bootstrap", func(tx *Txn) error {
		tok, out, err = tx.Bootstrap(deposit)
		return err
	})
	return tok, out, err
}

func (e *Engine) Open(ctx context.Context, fee Bucket) (tok PositionToken, err error) {
	err = e.atomic(ctx, "open", func(tx *Txn) error {
		tok, err = tx.Open(fee)
		return err
	})
	return tok, err
}

func (e *Engine) Mint(ctx context.Context, tok PositionToken, debtShares decimal.Decimal) (out Bucket, err error) {
	err = e.atomic(ctx, "mint", func(tx *Txn) error {
		out, err = tx.Mint(tok, debtShares)
		return err
	})
	return out, err
}

func (e *Engine) Burn(ctx context.Context, tok PositionToken, payment Bucket) (shares decimal.Decimal, err error) {
	err = e.atomic(ctx, "burn", func(tx *Txn) error {
		shares, err = tx.Burn(tok, payment)
		return err
	})
	return shares, err
}

func (e *Engine) Collateralize(ctx context.Context, tok PositionToken, deposit Bucket) (shares decimal.Decimal, err error) {
	err = e.atomic(ctx, "collateralize", func(tx *Txn) error {
		shares, err = tx.Collateralize(tok, deposit)
		return err
	})
	return shares, err
}

func (e *Engine) Uncollateralize(ctx context.Context, tok PositionToken, shares decimal.Decimal) (out []Bucket, err error) {
	err = e.atomic(ctx, "uncollateralize", func(tx *Txn) error {
		out, err = tx.Uncollateralize(tok, shares)
		return err
	})
	return out, err
}

func (e *Engine) InjectAssets(ctx context.Context, b Bucket) error {
	return e.atomic(ctx, "inject", func(tx *Txn) error {
		return tx.InjectAssets(b)
	})
}
