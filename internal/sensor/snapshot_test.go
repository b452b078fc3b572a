package sensor

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luki/sensordash/internal/catalog"
)

const testSnapshot = `{
  "temperatura": [
    {"fecha_hora": "2024-01-01 10:00:02", "temperatura": 36},
    {"fecha_hora": "2024-01-01 10:00:01", "temperatura": 34}
  ],
  "humedad": [
    {"fecha_hora": "2024-01-01 10:00:02", "humedad": 55.5}
  ],
  "puerta": [
    {"fecha_hora": "2024-01-01 10:00:02", "puerta": "1"},
    {"fecha_hora": "2024-01-01 10:00:01", "puerta": "0"}
  ],
  "luz": [],
  "presion": [
    {"fecha_hora": "2024-01-01 10:00:02", "presion": 1013}
  ]
}`

func TestParseAndNormalize(t *testing.T) {
	snap, err := ParseSnapshot([]byte(testSnapshot))
	require.NoError(t, err)
	require.Len(t, snap, 5)

	entries := Normalize(snap)

	_, ok := entries[catalog.Light]
	assert.False(t, ok, "empty sequence must be omitted")

	temp := entries[catalog.Temperature]
	assert.Equal(t, "2024-01-01 10:00:02", temp.Latest.Timestamp)
	require.True(t, temp.HasPrevious)
	v, err := temp.Previous.Number()
	require.NoError(t, err)
	assert.Equal(t, 34.0, v)

	hum := entries[catalog.Humidity]
	assert.False(t, hum.HasPrevious)

	door, err := entries[catalog.Door].Latest.Number()
	require.NoError(t, err)
	assert.Equal(t, 1.0, door)

	unknown, ok := entries["presion"]
	require.True(t, ok, "unknown ids pass through")
	v, err = unknown.Latest.Number()
	require.NoError(t, err)
	assert.Equal(t, 1013.0, v)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	snap, err := ParseSnapshot([]byte(testSnapshot))
	require.NoError(t, err)

	first := Normalize(snap)
	second := Normalize(snap)
	assert.Equal(t, first, second)
}

func TestParseSnapshotMalformed(t *testing.T) {
	cases := map[string]string{
		"array":            `[1, 2, 3]`,
		"null":             `null`,
		"not json":         `<html>oops</html>`,
		"sequence object":  `{"temperatura": {"fecha_hora": "x"}}`,
		"reading scalar":   `{"temperatura": [42]}`,
		"timestamp number": `{"temperatura": [{"fecha_hora": 5, "temperatura": 1}]}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSnapshot([]byte(payload))
			var malformed *MalformedSnapshotError
			require.True(t, errors.As(err, &malformed), "got %v", err)
		})
	}
}

func TestReadingNumber(t *testing.T) {
	tests := []struct {
		raw     string
		want    float64
		wantErr error
	}{
		{`36.5`, 36.5, nil},
		{`"1"`, 1, nil},
		{`" 0 "`, 0, nil},
		{`true`, 1, nil},
		{`false`, 0, nil},
		{`"NaN"`, 0, ErrNotNumeric},
		{`"abierta"`, 0, ErrNotNumeric},
		{`{"a":1}`, 0, ErrNotNumeric},
		{`null`, 0, ErrNoValue},
		{``, 0, ErrNoValue},
	}
	for _, tt := range tests {
		r := Reading{Value: json.RawMessage(tt.raw)}
		got, err := r.Number()
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Number(%s) err = %v, want %v", tt.raw, err, tt.wantErr)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("Number(%s) = %v, %v; want %v", tt.raw, got, err, tt.want)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	local, err := ParseTimestamp("2024-01-01 10:30:00")
	require.NoError(t, err)
	assert.Equal(t, 10, local.Hour())
	assert.Equal(t, 30, local.Minute())

	zoned, err := ParseTimestamp("2024-01-01T10:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 10, zoned.UTC().Hour())

	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestOrdering(t *testing.T) {
	newest := []Reading{
		{Timestamp: "2024-01-01 10:00:03"},
		{Timestamp: "2024-01-01 10:00:02"},
		{Timestamp: "2024-01-01 10:00:01"},
	}
	assert.True(t, NewestFirst(newest))

	chrono := Chronological(newest)
	assert.Equal(t, "2024-01-01 10:00:01", chrono[0].Timestamp)
	assert.Equal(t, "2024-01-01 10:00:03", chrono[2].Timestamp)
	assert.Equal(t, "2024-01-01 10:00:03", newest[0].Timestamp, "input must not be reordered")

	assert.False(t, NewestFirst(chrono))
}

func TestSnapshotIDs(t *testing.T) {
	snap := Snapshot{
		"zeta":              nil,
		catalog.Door:        nil,
		catalog.Temperature: nil,
		"alpha":             nil,
	}
	assert.Equal(t, []catalog.ID{catalog.Temperature, catalog.Door, "alpha", "zeta"}, snap.IDs())
}

func TestParseReadings(t *testing.T) {
	rows, err := ParseReadings(catalog.Humidity, []byte(`[
		{"fecha_hora": "2024-01-01 00:00:00", "humedad": 40},
		{"fecha_hora": "2024-01-01 00:01:00", "humedad": 41}
	]`))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	_, err = ParseReadings(catalog.Humidity, []byte(`{"error": "Sensor no encontrado"}`))
	var malformed *MalformedSnapshotError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, catalog.Humidity, malformed.Sensor)
}
