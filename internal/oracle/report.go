package oracle

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"
)

// ReportDomain separates oracle report signatures from anything else the key signs
const ReportDomain = "EUSD_ORACLE_V1"

var (
	ErrMalformedReport = errors.New("malformed oracle report")
	ErrBadSignature    = errors.New("oracle report signature invalid")
)

// Report is one USD price observation for the base asset
type Report struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// SignedReport carries a report with a DER encoded secp256k1 signature and
// the compressed public key of the signer, both hex.
type SignedReport struct {
	Report
	PubKey    string `json:"pubkey"`
	Signature string `json:"signature"`
}

// CanonicalMessage renders the exact bytes that get hashed and signed
func (r Report) CanonicalMessage() (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(r.Symbol))
	if symbol == "" {
		return "", fmt.Errorf("%w: symbol required", ErrMalformedReport)
	}
	if !r.Price.IsPositive() {
		return "", fmt.Errorf("%w: price must be positive", ErrMalformedReport)
	}
	if r.Timestamp.IsZero() {
		return "", fmt.Errorf("%w: timestamp required", ErrMalformedReport)
	}

	var b strings.Builder
	b.WriteString(ReportDomain)
	b.WriteString("|symbol=")
	b.WriteString(symbol)
	b.WriteString("|price=")
	b.WriteString(r.Price.StringFixed(18))
	b.WriteString("|ts=")
	b.WriteString(fmt.Sprintf("%d", r.Timestamp.UTC().UnixMilli()))
	return b.String(), nil
}

func (r Report) Digest() ([32]byte, error) {
	msg, err := r.CanonicalMessage()
	if err != nil {
		return [32]byte{}, err
	}
	return blake2b.Sum256([]byte(msg)), nil
}

// Sign produces a signed report. Timestamps are truncated to milliseconds so
// the signed form survives a JSON round trip.
func Sign(r Report, key *secp256k1.PrivateKey) (SignedReport, error) {
	r.Timestamp = r.Timestamp.UTC().Truncate(time.Millisecond)
	digest, err := r.Digest()
	if err != nil {
		return SignedReport{}, err
	}
	sig := ecdsa.Sign(key, digest[:])
	return SignedReport{
		Report:    r,
		PubKey:    hex.EncodeToString(key.PubKey().SerializeCompressed()),
		Signature: hex.EncodeToString(sig.Serialize()),
	}, nil
}

// Verify checks the signature against the embedded public key and returns it
func (s SignedReport) Verify() (*secp256k1.PublicKey, error) {
	pub, err := ParsePublicKey(s.PubKey)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(s.Signature, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: signature encoding: %v", ErrMalformedReport, err)
	}
	sig, err := ecdsa.ParseDERSignature(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	digest, err := s.Report.Digest()
	if err != nil {
		return nil, err
	}
	if !sig.Verify(digest[:], pub) {
		return nil, ErrBadSignature
	}
	return pub, nil
}

func ParsePublicKey(s string) (*secp256k1.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: public key encoding: %v", ErrMalformedReport, err)
	}
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}
	return pub, nil
}

func ParsePrivateKey(s string) (*secp256k1.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	return secp256k1.PrivKeyFromBytes(raw), nil
}

func keyID(pub *secp256k1.PublicKey) string {
	return hex.EncodeToString(pub.SerializeCompressed())
}
