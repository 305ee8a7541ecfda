package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

type claim struct {
	ID        int    `json:"id" cbor:"id"`
	PatientID int    `json:"patient_id" cbor:"patient_id"`
	Code      string `json:"code" cbor:"code"`
	Price     int    `json:"price" cbor:"price"`
}

func TestJSONCodec(t *testing.T) {
	c := JSON()
	b, err := c.Marshal(claim{ID: 1, PatientID: 2, Code: "03003", Price: 5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"patient_id":2,"code":"03003","price":5}`, string(b))

	var out map[string]any
	require.NoError(t, c.Unmarshal(b, &out))
	assert.Equal(t, float64(1), out["id"])
	assert.Equal(t, "03003", out["code"])
}

func TestCBORCodecDecodesStringKeys(t *testing.T) {
	c := CBOR()
	b, err := c.Marshal(claim{ID: 42, Code: "29001"})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, c.Unmarshal(b, &out))
	assert.EqualValues(t, 42, out["id"])
	assert.Equal(t, "29001", out["code"])
}

func TestProtoCodecStruct(t *testing.T) {
	c := Proto()
	b, err := c.Marshal(claim{ID: 3, Code: "45001", Price: 20})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, c.Unmarshal(b, &out))
	assert.Equal(t, float64(3), out["id"])
	assert.Equal(t, "45001", out["code"])

	var s structpb.Struct
	require.NoError(t, c.Unmarshal(b, &s))
	assert.Equal(t, float64(20), s.Fields["price"].GetNumberValue())
}

func TestProtoCodecRejectsScalars(t *testing.T) {
	_, err := Proto().Marshal(17)
	assert.Error(t, err)
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	for _, key := range []string{"", "json", "JSON", "application/json"} {
		c, err := r.Lookup(key)
		require.NoError(t, err, key)
		assert.Equal(t, "json", c.Name())
	}
	c, err := r.Lookup("application/cbor")
	require.NoError(t, err)
	assert.Equal(t, "cbor", c.Name())

	_, err = r.Lookup("yaml")
	assert.ErrorContains(t, err, "unknown codec")
	assert.Equal(t, []string{"cbor", "json", "proto"}, r.Names())
}
