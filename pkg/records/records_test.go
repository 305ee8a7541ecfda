package records

import (
	"encoding/json"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniqueIDsWithoutDuplicates(t *testing.T) {
	g := NewGenerator(0, rand.NewPCG(1, 1))
	for i := uint64(0); i < 50; i++ {
		c := g.Claim()
		assert.Equal(t, i, c.ID)
		assert.GreaterOrEqual(t, c.PatientID, 0)
		assert.LessOrEqual(t, c.PatientID, MaxPatientID)
	}
}

func TestDuplicateInjectionAlwaysReuses(t *testing.T) {
	g := NewGenerator(1, rand.NewPCG(7, 9))
	for i := uint64(0); i < 5; i++ {
		d := g.Diagnose()
		assert.LessOrEqual(t, d.ID, i, "id must come from the issued range")
	}
}

func TestDuplicateRateIsRoughlyRespected(t *testing.T) {
	g := NewGenerator(0.1, rand.NewPCG(42, 42))
	reused := 0
	const n = 5000
	for i := uint64(0); i < n; i++ {
		if g.Claim().ID != i {
			reused++
		}
	}
	// a reuse may land on the current id itself, so the observed rate is a bit lower
	assert.InDelta(t, 0.1*n, float64(reused), 0.04*n)
}

func TestClaimPriceMatchesCode(t *testing.T) {
	g := NewGenerator(0, rand.NewPCG(3, 5))
	prices := map[string]int{}
	for i, c := range ClaimCodes {
		prices[c] = ClaimPrices[i]
	}
	for i := 0; i < 100; i++ {
		c := g.Claim()
		assert.Equal(t, prices[c.Code], c.Price, c.Code)
	}
}

func TestDiagnoseUsesClaimIndexRange(t *testing.T) {
	g := NewGenerator(0, rand.NewPCG(11, 13))
	allowed := ICD10Codes[:len(ClaimCodes)]
	for i := 0; i < 200; i++ {
		assert.Contains(t, allowed, g.Diagnose().ICD10Code)
	}
}

func TestCountersAreIndependentAndConcurrent(t *testing.T) {
	g := NewGenerator(0, nil)
	var wg sync.WaitGroup
	ids := make(chan uint64, 400)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				ids <- g.Claim().ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[uint64]bool{}
	for id := range ids {
		assert.False(t, seen[id], "id %d issued twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, 400)
	assert.Equal(t, uint64(0), g.Diagnose().ID)
}

func TestJSONFieldNames(t *testing.T) {
	b, err := json.Marshal(Claim{ID: 1, PatientID: 2, Code: "03003", Price: 5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"patient_id":2,"code":"03003","price":5}`, string(b))

	b, err = json.Marshal(Diagnose{ID: 1, PatientID: 2, ICD10Code: "J44.9"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"patient_id":2,"icd10_code":"J44.9"}`, string(b))
}

func TestFunc(t *testing.T) {
	g := NewGenerator(0, nil)
	assert.IsType(t, Claim{}, g.Func(KindClaim)())
	assert.IsType(t, Diagnose{}, g.Func(KindDiagnose)())
	assert.Nil(t, g.Func("other"))
}

func TestClaimFromDecodedForms(t *testing.T) {
	fromJSON := map[string]any{"id": 7.0, "patient_id": 12.0, "code": "03003", "price": 5.0}
	c, err := ClaimFrom(fromJSON)
	require.NoError(t, err)
	assert.Equal(t, Claim{ID: 7, PatientID: 12, Code: "03003", Price: 5}, c)

	fromCBOR := map[string]any{"id": uint64(7), "patient_id": uint64(12), "code": "03003", "price": uint64(5)}
	c, err = ClaimFrom(fromCBOR)
	require.NoError(t, err)
	assert.Equal(t, Claim{ID: 7, PatientID: 12, Code: "03003", Price: 5}, c)
}

func TestDiagnoseFrom(t *testing.T) {
	d, err := DiagnoseFrom(map[string]any{"id": 3.0, "patient_id": int64(4), "icd10_code": "J44.9"})
	require.NoError(t, err)
	assert.Equal(t, Diagnose{ID: 3, PatientID: 4, ICD10Code: "J44.9"}, d)
}

func TestInvalidRecords(t *testing.T) {
	for _, m := range []map[string]any{
		{},
		{"id": -1.0, "patient_id": 1.0, "code": "x", "price": 1.0},
		{"id": 1.5, "patient_id": 1.0, "code": "x", "price": 1.0},
		{"id": 1.0, "patient_id": 1.0, "code": 3.0, "price": 1.0},
		{"id": 1.0, "patient_id": 1e12, "code": "x", "price": 1.0},
	} {
		_, err := ClaimFrom(m)
		assert.ErrorIs(t, err, ErrInvalidRecord, "%v", m)
	}
	_, err := DiagnoseFrom(map[string]any{"id": 1.0, "patient_id": 1.0})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}
