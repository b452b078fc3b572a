// Package catalog is the static registry of known telemetry sensors: display
// name, unit, chart colour and warning/critical limits per sensor id.
package catalog

// ID identifies a sensor as the backend names it, e.g. "temperatura".
type ID string

const (
	Temperature  ID = "temperatura"
	Humidity     ID = "humedad"
	Light        ID = "luz"
	AirQuality   ID = "calidadAire"
	Current      ID = "corriente"
	Distance     ID = "distancia"
	DoorDistance ID = "distancia_puerta"
	Door         ID = "puerta"
)

// DefaultColor is the chart colour used for sensors outside the catalog.
const DefaultColor = "#6366F1"

// Kind tells numeric sensors apart from 0/1 state sensors.
type Kind int

const (
	Numeric Kind = iota
	Binary
)

// Descriptor describes one sensor. Limits are only meaningful when the
// matching Has flag is set.
type Descriptor struct {
	ID          ID
	DisplayName string
	Unit        string // may be empty
	ChartColor  string // hex, e.g. "#3B82F6"
	Kind        Kind

	Warning     float64
	Critical    float64
	HasWarning  bool
	HasCritical bool

	OnLabel  string // binary sensors: label for value 1
	OffLabel string // binary sensors: label for value 0
}

// IsBinary reports whether the sensor carries 0/1 state values.
func (d Descriptor) IsBinary() bool {
	return d.Kind == Binary
}

// HasThresholds reports whether any limit is configured.
func (d Descriptor) HasThresholds() bool {
	return d.HasWarning || d.HasCritical
}

var descriptors = []Descriptor{
	{
		ID: Temperature, DisplayName: "Temperature", Unit: "°C", ChartColor: "#6366F1",
		Warning: 30, HasWarning: true, Critical: 35, HasCritical: true,
	},
	{
		ID: Humidity, DisplayName: "Humidity", Unit: "%", ChartColor: "#3B82F6",
		Warning: 60, HasWarning: true, Critical: 70, HasCritical: true,
	},
	{
		ID: Light, DisplayName: "Light", ChartColor: "#F59E0B", Kind: Binary,
		OnLabel: "Light detected", OffLabel: "No light",
	},
	{
		ID: AirQuality, DisplayName: "Air Quality", Unit: "ppm", ChartColor: "#10B981",
		Warning: 300, HasWarning: true, Critical: 500, HasCritical: true,
	},
	{
		ID: Current, DisplayName: "Electric Current", Unit: "A", ChartColor: "#8B5CF6",
		Warning: 10, HasWarning: true, Critical: 15, HasCritical: true,
	},
	{ID: Distance, DisplayName: "Distance", Unit: "cm", ChartColor: "#EC4899"},
	{ID: DoorDistance, DisplayName: "Door Distance", Unit: "cm", ChartColor: "#6EE7B7"},
	{
		ID: Door, DisplayName: "Door", ChartColor: "#374151", Kind: Binary,
		OnLabel: "Door open", OffLabel: "Door closed",
	},
}

var byID = func() map[ID]Descriptor {
	m := make(map[ID]Descriptor, len(descriptors))
	for _, d := range descriptors {
		m[d.ID] = d
	}
	return m
}()

// Describe returns the descriptor for id. Unknown ids get a fallback that
// uses the raw id as display name, no unit, the default colour and no limits.
func Describe(id ID) Descriptor {
	if d, ok := byID[id]; ok {
		return d
	}
	return Descriptor{
		ID:          id,
		DisplayName: string(id),
		ChartColor:  DefaultColor,
	}
}

// Known reports whether id belongs to the closed sensor set.
func Known(id ID) bool {
	_, ok := byID[id]
	return ok
}

// All returns every catalogued descriptor in display order.
func All() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}

// IDs returns the catalogued ids in display order.
func IDs() []ID {
	ids := make([]ID, len(descriptors))
	for i, d := range descriptors {
		ids[i] = d.ID
	}
	return ids
}

// Rank orders ids for display: catalogued sensors first in catalog order,
// then unknown ids. The second result is false for unknown ids.
func Rank(id ID) (int, bool) {
	for i, d := range descriptors {
		if d.ID == id {
			return i, true
		}
	}
	return len(descriptors), false
}
