package types

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsPreserveOrder(t *testing.T) {
	f := NewFields()
	f.Add("zeta", "1")
	f.Add("alpha", "2")
	f.Add("zeta", "3")

	assert.Equal(t, []string{"zeta", "alpha"}, f.Keys())
	assert.Equal(t, []string{"1", "3"}, f.Values("zeta"))
	assert.Equal(t, "1", f.Get("zeta"))
	assert.Equal(t, "", f.Get("missing"))

	b, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":["1","3"],"alpha":"2"}`, string(b))
}

func TestDecodeOrderedJSON(t *testing.T) {
	body := `{"name":"A","age":42,"ok":true,"tags":["x","y"],"nested":{"a": 1},"none":null}`
	f, err := DecodeOrderedJSON(strings.NewReader(body))
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "age", "ok", "tags", "nested", "none"}, f.Keys())
	assert.Equal(t, "42", f.Get("age"))
	assert.Equal(t, "true", f.Get("ok"))
	assert.Equal(t, []string{"x", "y"}, f.Values("tags"))
	assert.Equal(t, `{"a":1}`, f.Get("nested"))
	assert.Equal(t, "", f.Get("none"))
}

func TestDecodeOrderedJSONRejectsNonObject(t *testing.T) {
	_, err := DecodeOrderedJSON(strings.NewReader(`["a"]`))
	assert.Error(t, err)

	_, err = DecodeOrderedJSON(strings.NewReader(`{"a":`))
	assert.Error(t, err)
}

func TestFieldsScanValue(t *testing.T) {
	f := NewFields()
	f.Add("b", "2")
	f.Add("a", "1")
	v, err := f.Value()
	require.NoError(t, err)

	var scanned Fields
	require.NoError(t, scanned.Scan([]byte(v.(string))))
	assert.Equal(t, []string{"b", "a"}, scanned.Keys())

	var empty Fields
	require.NoError(t, empty.Scan(nil))
	assert.Equal(t, 0, empty.Len())
}

func TestFieldsKeepArrayShape(t *testing.T) {
	f, err := DecodeOrderedJSON(strings.NewReader(`{"tags":["x"],"empty":[],"name":"A"}`))
	require.NoError(t, err)
	assert.True(t, f.IsList("tags"))
	assert.True(t, f.Has("empty"))
	assert.Empty(t, f.Values("empty"))
	assert.False(t, f.IsList("name"))

	b, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Equal(t, `{"tags":["x"],"empty":[],"name":"A"}`, string(b))

	var scanned Fields
	v, err := f.Value()
	require.NoError(t, err)
	require.NoError(t, scanned.Scan(v))
	assert.True(t, scanned.IsList("tags"))
}

func TestDecodeOrderedJSONRejectsTrailingData(t *testing.T) {
	for _, body := range []string{`{"a":"1"} x`, `{"a":"1"}{}`, `{"a":"1"}"b"`} {
		_, err := DecodeOrderedJSON(strings.NewReader(body))
		assert.Error(t, err, body)
	}

	f, err := DecodeOrderedJSON(strings.NewReader("{\"a\":\"1\"}\n"))
	require.NoError(t, err)
	assert.Equal(t, "1", f.Get("a"))
}
