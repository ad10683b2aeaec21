package engine

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/leafsii/eusd-engine/internal/calc"
	"github.com/shopspring/decimal"
)

type FlashKind int

const (
	FlashLoanBase FlashKind = iota
	FlashLoanDerivative
	FlashMint
)

func (k FlashKind) String() string {
	switch k {
	case FlashLoanBase:
		return "loan_base"
	case FlashLoanDerivative:
		return "loan_derivative"
	case FlashMint:
		return "mint"
	default:
		return fmt.Sprintf("flash(%d)", int(k))
	}
}

func (k FlashKind) asset() Asset {
	switch k {
	case FlashLoanBase:
		return AssetBase
	case FlashLoanDerivative:
		return AssetDerivative
	default:
		return AssetStable
	}
}

// FlashReceipt is the debt note for one flash operation. It is bound to the
// Txn that issued it and can only be consumed by the matching end call on
// that Txn; a receipt still outstanding when the operation returns rolls the
// whole operation back.
type FlashReceipt struct {
	id        uuid.UUID
	txn       uuid.UUID
	kind      FlashKind
	size      decimal.Decimal
	repayment decimal.Decimal
	consumed  bool
}

func (r *FlashReceipt) Kind() FlashKind {
	return r.kind
}

func (r *FlashReceipt) Size() decimal.Decimal {
	return r.size
}

// Repayment is the fee-adjusted amount owed, in the units of the flashed asset
func (r *FlashReceipt) Repayment() decimal.Decimal {
	return r.repayment
}

func (tx *Txn) issueReceipt(kind FlashKind, size decimal.Decimal) *FlashReceipt {
	r := &FlashReceipt{
		id:        uuid.New(),
		txn:       tx.id,
		kind:      kind,
		size:      size,
		repayment: calc.FlashRepayment(size, tx.l.params.FlashFee),
	}
	tx.receipts[r.id] = r
	return r
}

func (tx *Txn) redeemReceipt(r *FlashReceipt, loan bool) error {
	if r == nil {
		return ErrWrongReceipt
	}
	if r.consumed {
		return ErrReceiptConsumed
	}
	if r.txn != tx.id {
		return fmt.Errorf("receipt from operation %s: %w", r.txn, ErrWrongReceipt)
	}
	if _, ok := tx.receipts[r.id]; !ok {
		return ErrWrongReceipt
	}
	if loan == (r.kind == FlashMint) {
		return fmt.Errorf("%s receipt: %w", r.kind, ErrWrongReceipt)
	}
	return nil
}

func (tx *Txn) consume(r *FlashReceipt) {
	r.consumed = true
	delete(tx.receipts, r.id)
}

// FlashLoanStart lends size of either collateral asset straight out of the pool
func (tx *Txn) FlashLoanStart(size decimal.Decimal, asset Asset) (Bucket, *FlashReceipt, error) {
	if err := tx.active(); err != nil {
		return Bucket{}, nil, err
	}
	if tx.l.loanActive {
		return Bucket{}, nil, fmt.Errorf("flash loan: %w", ErrFlashAlreadyActive)
	}
	if err := requirePositive("flash loan", size); err != nil {
		return Bucket{}, nil, err
	}

	var kind FlashKind
	switch asset {
	case AssetBase:
		if size.GreaterThan(tx.l.base) {
			return Bucket{}, nil, fmt.Errorf("flash loan of %s: %w", NewBucket(asset, size), ErrInsufficientBacking)
		}
		tx.l.base = tx.l.base.Sub(size)
		kind = FlashLoanBase
	case AssetDerivative:
		if size.GreaterThan(tx.l.derivative) {
			return Bucket{}, nil, fmt.Errorf("flash loan of %s: %w", NewBucket(asset, size), ErrInsufficientBacking)
		}
		tx.l.derivative = tx.l.derivative.Sub(size)
		kind = FlashLoanDerivative
	default:
		return Bucket{}, nil, fmt.Errorf("flash loan in %s: %w", asset, ErrWrongAsset)
	}

	tx.l.loanActive = true
	r := tx.issueReceipt(kind, size)

	tx.emit(EventFlashStart, uuid.Nil, asset, size, decimal.Zero, kind.String())
	tx.e.recorder.RecordFlash(tx.ctx, kind, size)
	return NewBucket(asset, size), r, nil
}

// FlashLoanEnd takes the repayment in either collateral form. A repayment in
// the other form is valued through the redemption rate.
func (tx *Txn) FlashLoanEnd(repayment Bucket, r *FlashReceipt) error {
	if err := tx.open(); err != nil {
		return err
	}
	if !tx.l.loanActive {
		return fmt.Errorf("flash loan: %w", ErrFlashNotActive)
	}
	if err := tx.redeemReceipt(r, true); err != nil {
		return err
	}
	if !repayment.Asset.IsCollateral() {
		return fmt.Errorf("flash loan repaid in %s: %w", repayment.Asset, ErrWrongAsset)
	}

	owed := r.kind.asset()
	paid := repayment.Amount
	if repayment.Asset != owed {
		paid = calc.CrossValue(repayment.Amount, tx.l.rate, owed == AssetDerivative)
	}
	if paid.LessThan(r.repayment) {
		return fmt.Errorf("repaid %s of %s %s: %w", paid, r.repayment, owed, ErrInsufficientRepayment)
	}

	tx.deposit(repayment)
	tx.l.loanActive = false
	tx.consume(r)

	tx.emit(EventFlashEnd, uuid.Nil, repayment.Asset, repayment.Amount, decimal.Zero, r.kind.String())
	return nil
}

// FlashMintStart issues size stablecoin with no collateral behind it
func (tx *Txn) FlashMintStart(size decimal.Decimal) (Bucket, *FlashReceipt, error) {
	if err := tx.active(); err != nil {
		return Bucket{}, nil, err
	}
	if tx.l.mintActive {
		return Bucket{}, nil, fmt.Errorf("flash mint: %w", ErrFlashAlreadyActive)
	}
	if err := requirePositive("flash mint", size); err != nil {
		return Bucket{}, nil, err
	}

	tx.l.liabilityValue = tx.l.liabilityValue.Add(size)
	tx.l.supply = tx.l.supply.Add(size)
	tx.l.mintActive = true
	r := tx.issueReceipt(FlashMint, size)

	tx.emit(EventFlashStart, uuid.Nil, AssetStable, size, decimal.Zero, FlashMint.String())
	tx.e.recorder.RecordFlash(tx.ctx, FlashMint, size)
	return NewBucket(AssetStable, size), r, nil
}

// FlashMintEnd burns the repayment. All of it comes off the debt total, so
// the fee lowers the debt share price for every borrower.
func (tx *Txn) FlashMintEnd(repayment Bucket, r *FlashReceipt) error {
	if err := tx.open(); err != nil {
		return err
	}
	if !tx.l.mintActive {
		return fmt.Errorf("flash mint: %w", ErrFlashNotActive)
	}
	if err := tx.redeemReceipt(r, false); err != nil {
		return err
	}
	if repayment.Asset != AssetStable {
		return fmt.Errorf("flash mint repaid in %s: %w", repayment.Asset, ErrWrongAsset)
	}
	if repayment.Amount.LessThan(r.repayment) {
		return fmt.Errorf("repaid %s of %s: %w", repayment.Amount, r.repayment, ErrInsufficientRepayment)
	}
	if repayment.Amount.GreaterThan(tx.l.liabilityValue) {
		return fmt.Errorf("repayment %s above total debt %s: %w", repayment.Amount, tx.l.liabilityValue, ErrNegativeLiabilities)
	}

	tx.l.liabilityValue = tx.l.liabilityValue.Sub(repayment.Amount)
	tx.l.supply = sub("supply", tx.l.supply, repayment.Amount)
	tx.l.mintActive = false
	tx.consume(r)

	tx.emit(EventFlashEnd, uuid.Nil, AssetStable, repayment.Amount, decimal.Zero, FlashMint.String())
	return nil
}
