package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum_Deterministic(t *testing.T) {
	// Map 的遍历顺序是随机的，但规范化编码之后必须稳定
	a := map[string]any{"b": 2, "a": 1, "c": []string{"x", "y"}}
	b := map[string]any{"c": []string{"x", "y"}, "a": 1, "b": 2}

	ha, err := Sum(a)
	require.NoError(t, err)
	hb, err := Sum(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)
}

func TestSum_OrderSensitiveSlices(t *testing.T) {
	ha, err := Sum([]string{"a.css", "b.css"})
	require.NoError(t, err)
	hb, err := Sum([]string{"b.css", "a.css"})
	require.NoError(t, err)

	assert.NotEqual(t, ha, hb, "调用顺序不同，指纹必须不同")
}

func TestMarshalUnmarshal(t *testing.T) {
	type record struct {
		Name string `cbor:"n"`
		Data []byte `cbor:"d"`
	}
	in := record{Name: "a.css", Data: []byte("body{}")}

	data, err := Marshal(in)
	require.NoError(t, err)

	var out record
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}
