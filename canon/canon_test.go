package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCSKeyOrdering(t *testing.T) {
	a := map[string]interface{}{
		"b": float64(2),
		"a": map[string]interface{}{
			"d": float64(4),
			"c": float64(3),
		},
	}
	b := map[string]interface{}{
		"a": map[string]interface{}{
			"c": float64(3),
			"d": float64(4),
		},
		"b": float64(2),
	}

	ja, err := JCS(a)
	require.NoError(t, err)
	jb, err := JCS(b)
	require.NoError(t, err)

	assert.Equal(t, ja, jb)
	assert.Equal(t, `{"a":{"c":3,"d":4},"b":2}`, string(ja))
}

func TestJCSIntegerNumbers(t *testing.T) {
	out, err := JCS(map[string]interface{}{"n": float64(10)})
	require.NoError(t, err)
	assert.Equal(t, `{"n":10}`, string(out))
}

func TestJCSRejectsNonFinite(t *testing.T) {
	_, err := JCS(map[string]interface{}{"n": nanValue()})
	assert.Error(t, err)
}

func nanValue() float64 {
	var zero float64
	return zero / zero
}

func TestJCSRejectsUnsupportedType(t *testing.T) {
	_, err := JCS(map[string]interface{}{"f": func() {}})
	assert.Error(t, err)
}

func TestHashHexDeterministic(t *testing.T) {
	v := map[string]interface{}{"x": "y"}
	h1, err := HashHex(v)
	require.NoError(t, err)
	h2, err := HashHex(v)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashTextMatchesSHA256OfUTF8(t *testing.T) {
	h := HashText("hello")
	assert.Len(t, h, 64)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", h)
	assert.Equal(t, HashText("hello"), h)
	assert.NotEqual(t, HashText("hellp"), h)
}

func TestBase64URLRoundTrip(t *testing.T) {
	data := []byte{1, 2, 3, 4, 250, 251}
	encoded := Base64URL(data)
	assert.NotContains(t, encoded, "=")

	decoded, err := DecodeBase64URL(encoded)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestArrayOrderPreserved(t *testing.T) {
	out, err := JCS(map[string]interface{}{
		"arr": []interface{}{float64(3), float64(1), float64(2)},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"arr":[3,1,2]}`, string(out))
}
