// Package records generates the synthetic claim and diagnose records that the
// publish role writes into its channels.
package records

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Kind names a record stream.
type Kind string

const (
	KindClaim    Kind = "claim"
	KindDiagnose Kind = "diagnose"
)

const (
	// DefaultDuplicateProb is the chance a record reuses an already issued id.
	DefaultDuplicateProb = 0.1
	// MaxPatientID is the inclusive upper bound of generated patient ids.
	MaxPatientID = 1000
)

var (
	ClaimCodes  = []string{"03003", "29001", "45001", "03230"}
	ClaimPrices = []int{5, 10, 20, 3}
	ICD10Codes  = []string{"A77.9", "R41.3", "J45.998", "J44.9", "R10.2", "I50.9"}
)

// Claim is a billed procedure.
type Claim struct {
	ID        uint64 `json:"id" cbor:"id"`
	PatientID int    `json:"patient_id" cbor:"patient_id"`
	Code      string `json:"code" cbor:"code"`
	Price     int    `json:"price" cbor:"price"`
}

// Diagnose is an ICD-10 diagnosis.
type Diagnose struct {
	ID        uint64 `json:"id" cbor:"id"`
	PatientID int    `json:"patient_id" cbor:"patient_id"`
	ICD10Code string `json:"icd10_code" cbor:"icd10_code"`
}

// Source feeds a Generator's random draws.
type Source = rand.Source

// Counter hands out increasing ids starting at zero. Safe for concurrent use.
type Counter struct {
	mu   sync.Mutex
	next uint64
}

// Next returns the current value and advances the counter.
func (c *Counter) Next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.next
	c.next++
	return cur
}

// Generator produces records of both kinds, each kind with its own counter.
// Safe for concurrent use.
type Generator struct {
	dupProb float64

	claims    Counter
	diagnoses Counter

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator returns a Generator. dupProb outside [0,1] is clamped; a nil src
// seeds from the clock.
func NewGenerator(dupProb float64, src Source) *Generator {
	if src == nil {
		now := uint64(time.Now().UnixNano())
		src = rand.NewPCG(now, now>>17|1)
	}
	return &Generator{dupProb: min(max(dupProb, 0), 1), rng: rand.New(src)}
}

// id draws the record id for counter value cur: with probability dupProb a
// uniform value in [0, cur], otherwise cur itself.
func (g *Generator) id(cur uint64) uint64 {
	if g.rng.Float64() < g.dupProb {
		return g.rng.Uint64N(cur + 1)
	}
	return cur
}

// Claim returns the next claim record.
func (g *Generator) Claim() Claim {
	cur := g.claims.Next()
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.rng.IntN(len(ClaimCodes))
	return Claim{
		ID:        g.id(cur),
		PatientID: g.rng.IntN(MaxPatientID + 1),
		Code:      ClaimCodes[i],
		Price:     ClaimPrices[i],
	}
}

// Diagnose returns the next diagnose record. The code index is drawn from the
// claim code range, so only the first four ICD-10 codes are produced.
func (g *Generator) Diagnose() Diagnose {
	cur := g.diagnoses.Next()
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.rng.IntN(len(ClaimCodes))
	return Diagnose{
		ID:        g.id(cur),
		PatientID: g.rng.IntN(MaxPatientID + 1),
		ICD10Code: ICD10Codes[i],
	}
}

// Func returns a generator callback for kind, or nil for an unknown kind.
func (g *Generator) Func(kind Kind) func() any {
	switch kind {
	case KindClaim:
		return func() any { return g.Claim() }
	case KindDiagnose:
		return func() any { return g.Diagnose() }
	}
	return nil
}
