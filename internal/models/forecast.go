package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Location identifies where a forecast applies. The zero value is the default (both empty).
type Location struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

// Forecast is one day's prediction. Only Date is interpreted; every other field of the
// upstream object is carried in Attributes and written back unchanged on marshal.
type Forecast struct {
	Date       string
	Attributes map[string]interface{}
}

// ForecastResponse is the body of a successful forecast lookup.
type ForecastResponse struct {
	Location  Location   `json:"location"`
	Forecasts []Forecast `json:"forecasts"`
}

// Attribute is a flattened forecast attribute, e.g. {"temperature.max", "14"}.
type Attribute struct {
	Key   string
	Value string
}

// UnmarshalJSON splits the object into Date and the remaining attributes.
func (f *Forecast) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	date, ok := raw["date"]
	if !ok {
		return fmt.Errorf("forecast entry missing date")
	}
	s, ok := date.(string)
	if !ok {
		return fmt.Errorf("forecast date must be a string, got %T", date)
	}
	delete(raw, "date")
	f.Date = s
	f.Attributes = raw
	return nil
}

// MarshalJSON writes Date alongside the attributes as a single flat object.
func (f Forecast) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(f.Attributes)+1)
	for k, v := range f.Attributes {
		out[k] = v
	}
	out["date"] = f.Date
	return json.Marshal(out)
}

// Attr returns a top-level attribute.
func (f Forecast) Attr(key string) (interface{}, bool) {
	v, ok := f.Attributes[key]
	return v, ok
}

// Description returns the "description" attribute when it is a string.
func (f Forecast) Description() string {
	if s, ok := f.Attributes["description"].(string); ok {
		return s
	}
	return ""
}

// Flatten returns every attribute as dotted key/value pairs sorted by key.
func (f Forecast) Flatten() []Attribute {
	var out []Attribute
	flattenInto(&out, "", f.Attributes)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func flattenInto(out *[]Attribute, prefix string, m map[string]interface{}) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			flattenInto(out, key, nested)
			continue
		}
		*out = append(*out, Attribute{Key: key, Value: formatValue(v)})
	}
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}
