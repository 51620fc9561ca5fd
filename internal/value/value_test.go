package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"nulls", Null{}, Null{}, true},
		{"nil vs null", nil, Null{}, true},
		{"numbers", Number(1.5), Number(1.5), true},
		{"numbers differ", Number(1), Number(2), false},
		{"number vs string", Number(1), String("1"), false},
		{"strings", String("a"), String("a"), true},
		{"bools", Bool(true), Bool(true), true},
		{"errors match", NewError(CodeTimeout, "a"), NewError(CodeTimeout, "a"), true},
		{"errors differ by code", NewError(CodeTimeout, "a"), NewError(CodeRuntimeFault, "a"), false},
		{"errors differ by message", NewError(CodeTimeout, "a"), NewError(CodeTimeout, "b"), false},
		{"lists", List{Number(1), Null{}}, List{Number(1), Null{}}, true},
		{"lists differ", List{Number(1)}, List{Number(2)}, false},
		{"list length differs", List{Number(1)}, List{Number(1), Number(2)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
			assert.Equal(t, tt.want, Equal(tt.b, tt.a))
		})
	}
}

func TestDisplay(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Null{}, ""},
		{nil, ""},
		{Number(6), "6"},
		{Number(2.5), "2.5"},
		{Number(-0.125), "-0.125"},
		{String("hello"), "hello"},
		{Bool(true), "true"},
		{Bool(false), "false"},
		{NewError(CodeTypeMismatch, "whatever"), "#TYPE_MISMATCH"},
		{List{Number(1), Number(2)}, "<list len=2>"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Display(tt.v))
	}
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "6", FormatNumber(6))
	assert.Equal(t, "0.1", FormatNumber(0.1))
	assert.Equal(t, "-3", FormatNumber(-3))
	assert.Equal(t, "0", FormatNumber(0))
}

func TestParseType(t *testing.T) {
	for _, s := range []string{"number", "string", "bool"} {
		typ, err := ParseType(s)
		require.NoError(t, err)
		assert.Equal(t, Type(s), typ)
	}
	_, err := ParseType("decimal")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown value type "decimal"`)
}

func TestCheckType(t *testing.T) {
	require.NoError(t, CheckType(Number(1), TypeNumber))
	require.NoError(t, CheckType(String("x"), TypeString))
	require.NoError(t, CheckType(Bool(true), TypeBool))

	// Null and errors conform to every type.
	require.NoError(t, CheckType(Null{}, TypeNumber))
	require.NoError(t, CheckType(NewError(CodeTimeout, "t"), TypeBool))

	require.Error(t, CheckType(Number(1), TypeString))
	require.Error(t, CheckType(String("x"), TypeNumber))
	require.Error(t, CheckType(List{Number(1)}, TypeNumber))
}

func TestCanonicalJSON(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want string
	}{
		{"null", Null{}, `null`},
		{"integral number", Number(6), `6`},
		{"fractional number", Number(0.5), `0.5`},
		{"string", String("a<b"), `"a<b"`}, // no HTML escaping
		{"bool", Bool(true), `true`},
		{"list", List{Number(1), String("x")}, `[1,"x"]`},
		{"error is tagged", NewError(CodeTimeout, "slow"), `{"error":{"code":"TIMEOUT","message":"slow"}}`},
		{"sorted object keys", map[string]any{"b": 1, "a": 2}, `{"a":2,"b":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := MarshalCanonical(tt.v)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestCanonicalJSONRejectsNonFinite(t *testing.T) {
	_, err := MarshalCanonical(Number(math.Inf(1)))
	require.Error(t, err)
}

func TestParseJSONRoundTrip(t *testing.T) {
	values := []Value{
		Null{},
		Number(2.5),
		String("héllo"),
		Bool(false),
		NewError(CodeRuntimeFault, "division by zero"),
		List{Number(1), Null{}, String("x")},
	}
	for _, v := range values {
		data, err := MarshalCanonical(v)
		require.NoError(t, err)

		back, err := ParseJSON(data)
		require.NoError(t, err)
		assert.True(t, Equal(v, back), "round trip changed %v", v)
	}
}

func TestParseJSONRejectsUnknownObjects(t *testing.T) {
	_, err := ParseJSON([]byte(`{"foo":1}`))
	require.Error(t, err)

	_, err = ParseJSON([]byte(`{"error":{"message":"no code"}}`))
	require.Error(t, err)
}

func TestHashWithDomain(t *testing.T) {
	h1 := HashWithDomain(DomainAudit, []byte("payload"))
	h2 := HashWithDomain(DomainAudit, []byte("payload"))
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	// Different domains must never collide on the same payload.
	assert.NotEqual(t, h1, HashWithDomain("cascade/other/v1", []byte("payload")))
	assert.NotEqual(t, h1, HashWithDomain(DomainAudit, []byte("payloae")))
}

func TestHashCanonicalStableAcrossKeyOrder(t *testing.T) {
	a, err := HashCanonical(DomainAudit, map[string]any{"x": 1, "y": "z"})
	require.NoError(t, err)
	b, err := HashCanonical(DomainAudit, map[string]any{"y": "z", "x": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
