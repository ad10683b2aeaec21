package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Options wires an Engine to its collaborators
type Options struct {
	Params   Params
	Secret   []byte // keys capability proofs; random when empty
	Treasury Treasury
	Staking  Staking
	Clock    func() time.Time
	Logger   *zap.SugaredLogger
	Recorder Recorder
	Sink     EventSink
}

// Engine owns the ledger and serializes every writer behind mu.
// Each public mutation runs as one atomic operation: it either commits
// in full or leaves the ledger exactly as it found it.
type Engine struct {
	mu sync.Mutex
	st *ledger

	keys     *keyring
	treasury Treasury
	staking  Staking
	clock    func() time.Time
	logger   *zap.SugaredLogger
	recorder Recorder
	sink     EventSink
}

// New builds an engine and returns the single authority capability for it
func New(opts Options) (*Engine, Authority, error) {
	if opts.Treasury == nil {
		return nil, Authority{}, errors.New("engine: treasury is required")
	}
	if opts.Staking == nil {
		return nil, Authority{}, errors.New("engine: staking service is required")
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, Authority{}, err
	}

	keys, err := newKeyring(opts.Secret)
	if err != nil {
		return nil, Authority{}, err
	}

	e := &Engine{
		st:       newLedger(opts.Params),
		keys:     keys,
		treasury: opts.Treasury,
		staking:  opts.Staking,
		clock:    opts.Clock,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		sink:     opts.Sink,
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.logger == nil {
		e.logger = zap.NewNop().Sugar()
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}

	return e, keys.authority(), nil
}

// Txn is the handle for one atomic operation. It is only valid inside the
// function passed to Atomic.
type Txn struct {
	ctx context.Context
	e   *Engine
	l   *ledger
	id  uuid.UUID
	now time.Time

	receipts  map[uuid.UUID]*FlashReceipt
	corrected map[Direction]bool
	pending   *pendingCorrection
	events    []Event
	profits   []Bucket
	stakes    []pendingStake
	closed    bool
}

func (tx *Txn) ID() uuid.UUID {
	return tx.id
}

func (tx *Txn) Context() context.Context {
	return tx.ctx
}

func (tx *Txn) open() error {
	if tx.closed {
		return ErrTxnClosed
	}
	return nil
}

func (tx *Txn) emit(kind EventKind, position uuid.UUID, asset Asset, amount, shares decimal.Decimal, detail string) {
	tx.events = append(tx.events, Event{
		ID:       uuid.New(),
		TxnID:    tx.id,
		Kind:     kind,
		Position: position,
		Asset:    asset,
		Amount:   amount,
		Shares:   shares,
		Detail:   detail,
		At:       tx.now,
	})
}

// settle enforces what must hold when an operation ends
func (tx *Txn) settle() error {
	if n := len(tx.receipts); n > 0 {
		return fmt.Errorf("%d outstanding: %w", n, ErrUnredeemedReceipt)
	}
	if tx.pending != nil {
		return fmt.Errorf("%s of %s: %w", tx.pending.direction, tx.pending.amount, ErrUnsettledCorrection)
	}
	return nil
}

// forward hands queued collaborator effects over once the operation is
// settled. It runs under the writer lock, so a rejection still rolls back.
func (tx *Txn) forward() error {
	for _, p := range tx.profits {
		if err := tx.e.treasury.AcceptProfit(tx.ctx, p); err != nil {
			return fmt.Errorf("treasury rejected profit %s: %w", p, err)
		}
	}
	for _, st := range tx.stakes {
		got, err := tx.e.staking.ConvertBaseToDerivative(tx.ctx, st.base)
		if err != nil {
			return fmt.Errorf("failed to stake %s %s: %w", st.base, AssetBase, err)
		}
		if diff := got.Sub(st.booked); !diff.IsZero() {
			tx.e.logger.Warnw("Staked amount differs from booking", "txn", tx.id, "booked", st.booked.String(), "received", got.String())
			tx.l.derivative = decimal.Max(decimal.Zero, tx.l.derivative.Add(diff))
		}
	}
	return nil
}

func (tx *Txn) refreshRate() error {
	rate, err := tx.e.staking.CurrentRedemptionRate(tx.ctx)
	if err != nil {
		return fmt.Errorf("failed to read redemption rate: %w", err)
	}
	if !rate.IsPositive() {
		return fmt.Errorf("redemption rate %s: %w", rate, ErrInvalidAmount)
	}
	tx.l.rate = rate
	return nil
}

// Atomic runs fn as one all-or-nothing operation. Any error, panic,
// unredeemed flash receipt or unsettled peg correction restores the
// ledger to its state before the call. Treasury and staking calls queued
// by fn are only made for operations that commit.
func (e *Engine) Atomic(ctx context.Context, fn func(tx *Txn) error) error {
	return e.atomic(ctx, "atomic", fn)
}

// AtomicOp is Atomic with the operation name used in logs and metrics
func (e *Engine) AtomicOp(ctx context.Context, op string, fn func(tx *Txn) error) error {
	return e.atomic(ctx, op, fn)
}

func (e *Engine) atomic(ctx context.Context, op string, fn func(tx *Txn) error) error {
	events, err := e.commit(ctx, fn)
	e.recorder.RecordOperation(ctx, op, err)
	if err != nil {
		e.logger.Debugw("Operation rolled back", "op", op, "error", err)
		return err
	}

	e.logger.Debugw("Operation committed", "op", op, "events", len(events))
	if e.sink != nil && len(events) > 0 {
		e.sink.Publish(ctx, events)
	}
	return nil
}

func (e *Engine) commit(ctx context.Context, fn func(tx *Txn) error) (events []Event, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	backup := e.st.clone()
	tx := &Txn{
		ctx:       ctx,
		e:         e,
		l:         e.st,
		id:        uuid.New(),
		now:       e.clock(),
		receipts:  make(map[uuid.UUID]*FlashReceipt),
		corrected: make(map[Direction]bool),
	}

	defer func() {
		tx.closed = true
		if r := recover(); r != nil {
			e.st = backup
			events = nil
			err = fmt.Errorf("%w: %v", ErrLedgerCorrupted, r)
			e.logger.Errorw("Operation aborted on ledger corruption", "txn", tx.id, "panic", r)
		}
	}()

	if err = tx.refreshRate(); err == nil {
		if err = fn(tx); err == nil {
			if err = tx.settle(); err == nil {
				err = tx.forward()
			}
		}
	}
	if err != nil {
		e.st = backup
		return nil, err
	}
	return tx.events, nil
}

func (e *Engine) read(fn func(l *ledger, now time.Time)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.st, e.clock())
}

// CollateralValueInBase returns the base-asset value of both pools
func (e *Engine) CollateralValueInBase() decimal.Decimal {
	var v decimal.Decimal
	e.read(func(l *ledger, _ time.Time) { v = l.collateralValueBase() })
	return v
}

func (e *Engine) CollateralValueInUSD() (decimal.Decimal, error) {
	var (
		v   decimal.Decimal
		err error
	)
	e.read(func(l *ledger, now time.Time) { v, err = l.collateralValueUSD(now) })
	return v, err
}

func (e *Engine) CollateralSharePriceUSD() (decimal.Decimal, error) {
	var (
		v   decimal.Decimal
		err error
	)
	e.read(func(l *ledger, now time.Time) { v, err = l.collateralSharePriceUSD(now) })
	return v, err
}

func (e *Engine) CollateralSharePriceBase() decimal.Decimal {
	var v decimal.Decimal
	e.read(func(l *ledger, _ time.Time) { v = l.collateralSharePriceBase() })
	return v
}

func (e *Engine) DebtSharePrice() decimal.Decimal {
	var v decimal.Decimal
	e.read(func(l *ledger, _ time.Time) { v = l.debtSharePrice() })
	return v
}

// TotalCollateralizationRatio fails with ErrStaleOracle when the price is stale
func (e *Engine) TotalCollateralizationRatio() (decimal.Decimal, error) {
	var (
		v   decimal.Decimal
		err error
	)
	e.read(func(l *ledger, now time.Time) { v, err = l.totalCollateralizationRatio(now) })
	return v, err
}

// State returns a consistent view of totals, prices and parameters. Values
// use the redemption rate read by the last committed operation.
func (e *Engine) State() State {
	var s State
	e.read(func(l *ledger, now time.Time) { s = l.state(now) })
	return s
}

// Position returns a copy of a position
func (e *Engine) Position(id uuid.UUID) (Position, error) {
	var (
		p   Position
		err error
	)
	e.read(func(l *ledger, _ time.Time) {
		var pos *Position
		if pos, err = l.position(id); err == nil {
			p = *pos
		}
	})
	return p, err
}

// Positions returns copies of every position
func (e *Engine) Positions() []Position {
	var out []Position
	e.read(func(l *ledger, _ time.Time) {
		out = make([]Position, 0, len(l.positions))
		for _, p := range l.positions {
			out = append(out, *p)
		}
	})
	return out
}

func (e *Engine) Params() Params {
	var p Params
	e.read(func(l *ledger, _ time.Time) { p = l.params })
	return p
}
