package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCS_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1, "c": map[string]any{"y": true, "x": false}}
	b := map[string]any{"c": map[string]any{"x": false, "y": true}, "a": 1, "b": 2}

	ca, err := JCS(a)
	require.NoError(t, err)
	cb, err := JCS(b)
	require.NoError(t, err)

	assert.Equal(t, string(ca), string(cb))
	assert.Equal(t, `{"a":1,"b":2,"c":{"x":false,"y":true}}`, string(ca))
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	got, err := JCS(map[string]any{"url": "https://example.com/a?b=1&c=<d>"})
	require.NoError(t, err)
	assert.Equal(t, `{"url":"https://example.com/a?b=1&c=<d>"}`, string(got))
}

func TestTransform_CanonicalTextIsFixedPoint(t *testing.T) {
	canonical, err := JCS(map[string]any{"n": 42, "s": "x", "arr": []any{1, 2, 3}})
	require.NoError(t, err)

	again, err := Transform(canonical)
	require.NoError(t, err)
	assert.Equal(t, string(canonical), string(again))
}

func TestCanonicalHash_Stable(t *testing.T) {
	payload := map[string]any{
		"destination_country_code": "US",
		"data_categories":          []string{"email"},
		"decision":                 "REVIEW",
	}

	h1, err := CanonicalHash(payload)
	require.NoError(t, err)
	h2, err := CanonicalHash(payload)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashString_KnownVector(t *testing.T) {
	// SHA-256 of the empty JSON object.
	assert.Equal(t,
		"44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a",
		HashString("{}"))
}
