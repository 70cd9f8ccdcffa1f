package types

// Values holds the measured quantities of a reading or the means of an
// aggregate. A nil field is an undefined quantity, never zero.
type Values struct {
	PH                 *float64 `json:"ph"`
	WaterTemperature   *float64 `json:"temperatura_agua"`
	AmbientTemperature *float64 `json:"temperatura_ambiente"`
	Humidity           *float64 `json:"humedad"`
	Light              *float64 `json:"luz"`
	Conductivity       *float64 `json:"conductividad"`
	CO2                *float64 `json:"co2"`
}

type Quantity int

const (
	QuantityPH Quantity = iota
	QuantityWaterTemperature
	QuantityAmbientTemperature
	QuantityHumidity
	QuantityLight
	QuantityConductivity
	QuantityCO2

	NumQuantities = 7
)

// Quantities lists every quantity in column order.
var Quantities = []Quantity{
	QuantityPH,
	QuantityWaterTemperature,
	QuantityAmbientTemperature,
	QuantityHumidity,
	QuantityLight,
	QuantityConductivity,
	QuantityCO2,
}

var quantityKeys = [...]string{
	"ph",
	"temperatura_agua",
	"temperatura_ambiente",
	"humedad",
	"luz",
	"conductividad",
	"co2",
}

var quantityLabels = [...]string{
	"pH",
	"Temp. agua (°C)",
	"Temp. amb. (°C)",
	"Humedad (%)",
	"Luz (lx)",
	"Conduct. (µS/cm)",
	"CO2 (ppm)",
}

// String returns the JSON key and column name of q.
func (q Quantity) String() string {
	if q < 0 || int(q) >= len(quantityKeys) {
		return "unknown"
	}
	return quantityKeys[q]
}

func (q Quantity) Label() string {
	if q < 0 || int(q) >= len(quantityLabels) {
		return "?"
	}
	return quantityLabels[q]
}

func (v *Values) field(q Quantity) **float64 {
	switch q {
	case QuantityPH:
		return &v.PH
	case QuantityWaterTemperature:
		return &v.WaterTemperature
	case QuantityAmbientTemperature:
		return &v.AmbientTemperature
	case QuantityHumidity:
		return &v.Humidity
	case QuantityLight:
		return &v.Light
	case QuantityConductivity:
		return &v.Conductivity
	case QuantityCO2:
		return &v.CO2
	}
	return nil
}

func (v Values) Get(q Quantity) *float64 {
	if f := v.field(q); f != nil {
		return *f
	}
	return nil
}

func (v *Values) Set(q Quantity, val *float64) {
	if f := v.field(q); f != nil {
		*f = val
	}
}

// Empty reports whether no quantity is defined.
func (v Values) Empty() bool {
	for _, q := range Quantities {
		if v.Get(q) != nil {
			return false
		}
	}
	return true
}

func Float(f float64) *float64 {
	return &f
}
