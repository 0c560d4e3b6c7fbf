package docstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFieldHelpersCoerceStoredShapes(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC)
	doc := &Document{
		ID: "d1",
		Fields: map[string]interface{}{
			"s":        "text",
			"b":        true,
			"n_int":    5,
			"n_int64":  int64(6),
			"n_float":  float64(7), // JSON decoding yields float64
			"t_native": now,
			"t_string": now.Format(time.RFC3339Nano),
		},
	}

	assert.Equal(t, "text", FieldString(doc, "s"))
	assert.Equal(t, "", FieldString(doc, "missing"))

	assert.True(t, FieldBool(doc, "b"))
	assert.False(t, FieldBool(doc, "missing"))

	for key, want := range map[string]int64{"n_int": 5, "n_int64": 6, "n_float": 7} {
		n, ok := FieldInt(doc, key)
		assert.True(t, ok, key)
		assert.Equal(t, want, n, key)
	}
	_, ok := FieldInt(doc, "missing")
	assert.False(t, ok)

	ts, ok := FieldTime(doc, "t_native")
	assert.True(t, ok)
	assert.True(t, ts.Equal(now))

	ts, ok = FieldTime(doc, "t_string")
	assert.True(t, ok)
	assert.True(t, ts.Equal(now))

	_, ok = FieldTime(doc, "s")
	assert.False(t, ok)
	_, ok = FieldTime(doc, "missing")
	assert.False(t, ok)
}

func TestFieldHelpersNilDocument(t *testing.T) {
	assert.Equal(t, "", FieldString(nil, "x"))
	assert.False(t, FieldBool(nil, "x"))
	_, ok := FieldInt(nil, "x")
	assert.False(t, ok)
	_, ok = FieldTime(nil, "x")
	assert.False(t, ok)
}
