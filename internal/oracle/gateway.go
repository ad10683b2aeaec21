package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/leafsii/eusd-engine/internal/engine"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrUnknownSigner    = errors.New("oracle report signer not registered")
	ErrWrongSymbol      = errors.New("oracle report for unexpected symbol")
	ErrReportTooOld     = errors.New("oracle report too old")
	ErrReportFromFuture = errors.New("oracle report timestamp in the future")
	ErrReplayedReport   = errors.New("oracle report not newer than the last accepted one")
)

// Poster is the slice of the engine the gateway writes through
type Poster interface {
	SetOracle(ctx context.Context, price decimal.Decimal, src engine.OracleSource) error
}

type Recorder interface {
	RecordOracleReport(ctx context.Context, source string, err error)
}

type signer struct {
	source engine.OracleSource
	last   time.Time
}

// Gateway verifies signed reports from registered feeders and posts the
// price under the feeder's oracle capability.
type Gateway struct {
	mu      sync.Mutex
	poster  Poster
	symbol  string
	maxAge  time.Duration
	skew    time.Duration
	signers map[string]*signer

	clock    func() time.Time
	logger   *zap.SugaredLogger
	recorder Recorder
}

type GatewayOption func(*Gateway)

func WithClock(clock func() time.Time) GatewayOption {
	return func(g *Gateway) { g.clock = clock }
}

func WithRecorder(r Recorder) GatewayOption {
	return func(g *Gateway) { g.recorder = r }
}

// WithClockSkew bounds how far in the future a report timestamp may be
func WithClockSkew(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.skew = d }
}

// NewGateway accepts reports for symbol no older than maxAge
func NewGateway(poster Poster, symbol string, maxAge time.Duration, logger *zap.SugaredLogger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		poster:  poster,
		symbol:  strings.ToUpper(strings.TrimSpace(symbol)),
		maxAge:  maxAge,
		skew:    5 * time.Second,
		signers: make(map[string]*signer),
		clock:   time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = zap.NewNop().Sugar()
	}
	return g
}

// Register binds a feeder key to an oracle source capability
func (g *Gateway) Register(pub *secp256k1.PublicKey, src engine.OracleSource) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.signers[keyID(pub)] = &signer{source: src}
	g.logger.Infow("Oracle signer registered", "source", src.Rank.String(), "pubkey", keyID(pub))
}

func (g *Gateway) Signers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.signers)
}

// Submit verifies one report and posts it. Reports are accepted per signer
// in strictly increasing timestamp order.
func (g *Gateway) Submit(ctx context.Context, report SignedReport) error {
	rank, err := g.submit(ctx, report)
	if g.recorder != nil {
		g.recorder.RecordOracleReport(ctx, rank, err)
	}
	if err != nil {
		g.logger.Warnw("Oracle report rejected", "source", rank, "price", report.Price.String(), "error", err)
		return err
	}
	g.logger.Debugw("Oracle report accepted", "source", rank, "price", report.Price.String())
	return nil
}

func (g *Gateway) submit(ctx context.Context, report SignedReport) (string, error) {
	pub, err := report.Verify()
	if err != nil {
		return "unknown", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.signers[keyID(pub)]
	if !ok {
		return "unknown", ErrUnknownSigner
	}
	rank := s.source.Rank.String()

	if got := strings.ToUpper(strings.TrimSpace(report.Symbol)); got != g.symbol {
		return rank, fmt.Errorf("%w: %s", ErrWrongSymbol, got)
	}

	now := g.clock()
	ts := report.Timestamp
	if ts.After(now.Add(g.skew)) {
		return rank, fmt.Errorf("%w: %s ahead", ErrReportFromFuture, ts.Sub(now).Round(time.Millisecond))
	}
	if g.maxAge > 0 && now.Sub(ts) > g.maxAge {
		return rank, fmt.Errorf("%w: %s old", ErrReportTooOld, now.Sub(ts).Round(time.Second))
	}
	if !s.last.IsZero() && !ts.After(s.last) {
		return rank, ErrReplayedReport
	}

	if err := g.poster.SetOracle(ctx, report.Price, s.source); err != nil {
		return rank, err
	}
	s.last = ts
	return rank, nil
}
