package engine

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

const (
	domainAuthority = "eusd/authority"
	domainPosition  = "eusd/position"
	domainOracle    = "eusd/oracle"
	domainVenue     = "eusd/venue"
)

// Proof is a keyed blake2b digest binding a capability to the engine that issued it
type Proof [32]byte

func (p Proof) String() string {
	return hex.EncodeToString(p[:])
}

func ParseProof(s string) (Proof, error) {
	var p Proof
	raw, err := hex.DecodeString(s)
	if err != nil {
		return p, fmt.Errorf("invalid proof encoding: %w", err)
	}
	if len(raw) != len(p) {
		return p, fmt.Errorf("invalid proof length %d", len(raw))
	}
	copy(p[:], raw)
	return p, nil
}

func (p Proof) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Proof) UnmarshalText(text []byte) error {
	parsed, err := ParseProof(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// PositionToken is the capability that authorizes mutating one position.
// The engine never stores it; possession is checked by recomputing the proof.
type PositionToken struct {
	ID    uuid.UUID `json:"id"`
	Proof Proof     `json:"proof"`
}

// Authority gates parameter changes, halting and the issuance of oracle and venue capabilities
type Authority struct {
	proof Proof
}

// SourceRank orders the two oracle writers
type SourceRank int

const (
	SourcePrimary SourceRank = iota
	SourceSecondary
)

func (r SourceRank) String() string {
	switch r {
	case SourcePrimary:
		return "primary"
	case SourceSecondary:
		return "secondary"
	default:
		return fmt.Sprintf("source(%d)", int(r))
	}
}

// OracleSource is the capability a price feeder presents to SetOracle
type OracleSource struct {
	Rank  SourceRank
	proof Proof
}

// VenueToken is the capability the trading venue presents to Woke and Choke.
// Like a position token it is portable, so the venue can hold it out of process.
type VenueToken struct {
	Name  string `json:"name"`
	Proof Proof  `json:"proof"`
}

type keyring struct {
	secret []byte
}

func newKeyring(secret []byte) (*keyring, error) {
	switch {
	case len(secret) == 0:
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate capability secret: %w", err)
		}
	case len(secret) > blake2b.Size:
		sum := blake2b.Sum256(secret)
		secret = sum[:]
	}
	return &keyring{secret: secret}, nil
}

func (k *keyring) sign(domain string, subject []byte) Proof {
	h, err := blake2b.New256(k.secret)
	if err != nil {
		// key length is bounded in newKeyring
		panic(err)
	}
	h.Write([]byte(domain))
	h.Write([]byte{0})
	h.Write(subject)

	var p Proof
	copy(p[:], h.Sum(nil))
	return p
}

func (k *keyring) verify(domain string, subject []byte, proof Proof) bool {
	want := k.sign(domain, subject)
	return subtle.ConstantTimeCompare(want[:], proof[:]) == 1
}

func (k *keyring) positionToken(id uuid.UUID) PositionToken {
	return PositionToken{ID: id, Proof: k.sign(domainPosition, id[:])}
}

func (k *keyring) checkPosition(tok PositionToken) error {
	if !k.verify(domainPosition, tok.ID[:], tok.Proof) {
		return fmt.Errorf("position %s: %w", tok.ID, ErrUnauthorized)
	}
	return nil
}

func (k *keyring) authority() Authority {
	return Authority{proof: k.sign(domainAuthority, nil)}
}

func (k *keyring) checkAuthority(a Authority) error {
	if !k.verify(domainAuthority, nil, a.proof) {
		return fmt.Errorf("authority: %w", ErrUnauthorized)
	}
	return nil
}

func (k *keyring) oracleSource(rank SourceRank) OracleSource {
	return OracleSource{Rank: rank, proof: k.sign(domainOracle, []byte{byte(rank)})}
}

func (k *keyring) checkOracleSource(src OracleSource) error {
	if src.Rank != SourcePrimary && src.Rank != SourceSecondary {
		return fmt.Errorf("oracle %s: %w", src.Rank, ErrUnauthorized)
	}
	if !k.verify(domainOracle, []byte{byte(src.Rank)}, src.proof) {
		return fmt.Errorf("oracle %s: %w", src.Rank, ErrUnauthorized)
	}
	return nil
}

func (k *keyring) venueToken(name string) VenueToken {
	return VenueToken{Name: name, Proof: k.sign(domainVenue, []byte(name))}
}

func (k *keyring) checkVenue(v VenueToken) error {
	if v.Name == "" || !k.verify(domainVenue, []byte(v.Name), v.Proof) {
		return fmt.Errorf("venue %q: %w", v.Name, ErrUnauthorized)
	}
	return nil
}
