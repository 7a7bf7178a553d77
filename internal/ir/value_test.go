package ir

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeObject(t *testing.T) {
	obj, err := DecodeObject([]byte(`{"trigger":"usbPlugged","device":{"id":"sdb1","port":3},"ok":true,"gone":null}`))
	require.NoError(t, err)

	assert.Equal(t, String("usbPlugged"), obj["trigger"])
	assert.Equal(t, Null{}, obj["gone"])
	assert.Equal(t, Bool(true), obj["ok"])

	port, ok := obj.Lookup("device.port")
	require.True(t, ok)
	assert.Equal(t, Int(3), port)
}

func TestDecodeObject_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"not json", `not json`, "invalid character"},
		{"array", `[1,2]`, "expected JSON object, got array"},
		{"string", `"hello"`, "expected JSON object, got string"},
		{"float overflow", `{"n":1e400}`, "out of float64 range"},
		{"integer overflow", `{"n":9223372036854775808}`, "out of int64 range"},
		{"trailing", `{"a":1} {"b":2}`, "trailing data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeObject([]byte(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDecodeObject_NonIntegerNumbers(t *testing.T) {
	obj, err := DecodeObject([]byte(`{"latency":1.5,"ratio":-2e-3,"big":1E3,"count":7}`))
	require.NoError(t, err)

	assert.Equal(t, Number("1.5"), obj["latency"])
	assert.Equal(t, Number("-2e-3"), obj["ratio"])
	assert.Equal(t, Number("1E3"), obj["big"])
	assert.Equal(t, Int(7), obj["count"])
	assert.InDelta(t, 1000.0, obj["big"].(Number).Float(), 0)

	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"big":1E3,"count":7,"latency":1.5,"ratio":-2e-3}`, string(data))

	_, ok := obj.LookupString("latency")
	assert.False(t, ok, "numbers are not condition scalars")

	_, err = MarshalCanonical(obj)
	assert.ErrorContains(t, err, "no canonical form")
}

func TestObjectLookup(t *testing.T) {
	obj := Object{
		"device": Object{"id": String("sdb1"), "meta": Object{"vendor": String("acme")}},
		"url":    String("https://bank.com"),
	}

	v, ok := obj.Lookup("device.meta.vendor")
	require.True(t, ok)
	assert.Equal(t, String("acme"), v)

	_, ok = obj.Lookup("device.missing")
	assert.False(t, ok)

	_, ok = obj.Lookup("url.host")
	assert.False(t, ok, "cannot traverse into a string")

	_, ok = obj.Lookup("")
	assert.False(t, ok)
}

func TestLookupString(t *testing.T) {
	obj := Object{"n": Int(42), "b": Bool(false), "s": String("x"), "a": Array{}}

	s, ok := obj.LookupString("n")
	assert.True(t, ok)
	assert.Equal(t, "42", s)

	s, ok = obj.LookupString("b")
	assert.True(t, ok)
	assert.Equal(t, "false", s)

	_, ok = obj.LookupString("a")
	assert.False(t, ok, "arrays are not scalars")
}

func TestObjectClone_IsDeep(t *testing.T) {
	orig := Object{"device": Object{"id": String("sdb1")}, "tags": Array{String("a")}}
	cp := orig.Clone()

	cp["device"].(Object)["id"] = String("changed")
	cp["tags"].(Array)[0] = String("changed")

	assert.Equal(t, String("sdb1"), orig["device"].(Object)["id"])
	assert.Equal(t, String("a"), orig["tags"].(Array)[0])
}

func TestObjectMarshalJSON_SortedKeys(t *testing.T) {
	obj := Object{"b": Int(2), "a": String("x"), "c": Null{}}
	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":2,"c":null}`, string(data))
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"list":  []any{"a", 1, true},
		"whole": float64(3),
		"names": []string{"x"},
	})
	require.NoError(t, err)

	obj := v.(Object)
	assert.Equal(t, Array{String("a"), Int(1), Bool(true)}, obj["list"])
	assert.Equal(t, Int(3), obj["whole"])
	assert.Equal(t, Array{String("x")}, obj["names"])

	v, err = FromAny(2.5)
	require.NoError(t, err)
	assert.Equal(t, Number("2.5"), v)

	_, err = FromAny(math.NaN())
	assert.Error(t, err)

	_, err = FromAny(struct{}{})
	assert.Error(t, err)
}

func TestToAny(t *testing.T) {
	obj := Object{
		"urlPattern": Array{String("*.bank.com")},
		"port":       Int(443),
		"on":         Bool(true),
		"nested":     Object{"x": Null{}},
	}

	assert.Equal(t, map[string]any{
		"urlPattern": []any{"*.bank.com"},
		"port":       int64(443),
		"on":         true,
		"nested":     map[string]any{"x": nil},
	}, ToAny(obj))

	back, err := FromAny(ToAny(obj))
	require.NoError(t, err)
	assert.Equal(t, obj, back)
}
