package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_KeyOrderIndependent(t *testing.T) {
	a, err := Transform([]byte(`{"b":1,"a":{"y":2,"x":1}}`))
	require.NoError(t, err)
	b, err := Transform([]byte(`{"a":{"x":1,"y":2},"b":1}`))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestMarshal_Idempotent(t *testing.T) {
	once, err := Transform([]byte(`{"z": 1.50, "a": [3, 2, 1], "n": null}`))
	require.NoError(t, err)
	twice, err := Transform(once)
	require.NoError(t, err)
	assert.Equal(t, string(once), string(twice))
}

func TestMarshal_NumberForm(t *testing.T) {
	out, err := Transform([]byte(`{"v": 1.0}`))
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(out))
}

func TestMarshal_ArrayOrderPreserved(t *testing.T) {
	out, err := Transform([]byte(`{"a":[3,1,2]}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":[3,1,2]}`, string(out))
}

func TestHashHex_EqualSemanticsEqualHash(t *testing.T) {
	type inner struct {
		Y int `json:"y"`
		X int `json:"x"`
	}
	h1, err := HashHex(map[string]interface{}{"k": inner{Y: 2, X: 1}})
	require.NoError(t, err)
	h2, err := HashBytes([]byte(`{"k":{"x":1,"y":2}}`))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}
