package inventory

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_Scalar(t *testing.T) {
	tests := []struct {
		name   string
		value  Value
		want   float64
		wantOK bool
	}{
		{"bare number", Number(60), 60, true},
		{"value map", Map(map[string]Value{"value": Number(1.5), "unit": String("uA")}), 1.5, true},
		{"map without value", Map(map[string]Value{"unit": String("V")}), 0, false},
		{"string", String("60"), 0, false},
		{"null", Null(), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.value.Scalar()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBag_ScanValue(t *testing.T) {
	in := Bag{
		"voltage_measured": Number(60),
		"leakage":          Map(map[string]Value{"value": Number(2.5e-7), "unit": String("A/cm2")}),
		"channels":         Numbers(1, 2, 3),
		"ok":               Bool(true),
		"comment":          String("> 1e-6"),
		"missing":          Null(),
	}
	raw, err := in.Value()
	require.NoError(t, err)

	var out Bag
	require.NoError(t, out.Scan(raw))
	require.Len(t, out, len(in))
	for k, v := range in {
		assert.True(t, v.Equal(out[k]), "key %s: %v != %v", k, v.Any(), out[k].Any())
	}

	var fromBytes Bag
	require.NoError(t, fromBytes.Scan([]byte(raw.(string))))
	assert.Len(t, fromBytes, len(in))
}

func TestBag_ScanNilAndEmpty(t *testing.T) {
	var b Bag
	require.NoError(t, b.Scan(nil))
	assert.Nil(t, b)
	require.NoError(t, b.Scan(""))
	assert.Nil(t, b)
	assert.Error(t, b.Scan(42))

	v, err := Bag(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestValue_JSONMapKeysSorted(t *testing.T) {
	v := Map(map[string]Value{"b": Number(2), "a": String("x")})
	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"x","b":2}`, string(data))
	assert.Equal(t, `{"a":"x","b":2}`, string(data))
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"n":    3,
		"list": []any{"a", 1.5, nil},
	})
	require.NoError(t, err)
	m, ok := v.AsMap()
	require.True(t, ok)
	n, ok := m["n"].AsNumber()
	require.True(t, ok)
	assert.Equal(t, 3.0, n)
	list, ok := m["list"].AsList()
	require.True(t, ok)
	require.Len(t, list, 3)
	assert.True(t, list[2].IsNull())

	_, err = FromAny(struct{}{})
	assert.Error(t, err)
}

func TestValue_Text(t *testing.T) {
	assert.Equal(t, "", Null().Text())
	assert.Equal(t, "abc", String("abc").Text())
	assert.Equal(t, "2.5e-07", Number(2.5e-7).Text())
	assert.Equal(t, "true", Bool(true).Text())
	assert.Equal(t, "[1,2]", Numbers(1, 2).Text())
}

func TestBag_Merge(t *testing.T) {
	base := Bag{"a": Number(1), "b": Number(2)}
	merged := base.Merge(Bag{"b": Number(3), "c": String("x")})
	assert.Equal(t, []string{"a", "b", "c"}, merged.Keys())
	got, _ := merged["b"].AsNumber()
	assert.Equal(t, 3.0, got)
	orig, _ := base["b"].AsNumber()
	assert.Equal(t, 2.0, orig)
}
