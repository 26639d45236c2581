package convert

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/geobridge/geobridge/pkg/errors"
	"github.com/geobridge/geobridge/pkg/json"
	"github.com/geobridge/geobridge/pkg/schema"
)

// timestampLayouts are tried in order when coercing a string timestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

const dateLayout = "2006-01-02"

// epochMillisCutoff separates Unix seconds from Unix milliseconds when a
// timestamp arrives as a bare integer. Values at or above it are milliseconds.
const epochMillisCutoff = int64(1e12)

// CoerceField applies the value representation contract to one field. A nil
// or empty raw value maps to nil for nullable fields and is an error for
// non-nullable ones.
func CoerceField(f schema.Field, raw interface{}) (interface{}, error) {
	if isEmpty(raw) {
		if f.Nullable {
			return nil, nil
		}
		return nil, errors.Newf(errors.ErrorTypeParse, "field %s is not nullable but value is empty", f.Name)
	}
	v, err := CoerceValue(f.Type, raw)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeParse, "field %s", f.Name)
	}
	return v, nil
}

// CoerceValue converts a raw decoded value to the canonical Go type for the
// field type: string, int64, float64, bool, time.Time, schema.Point,
// interface{} for json, []byte for binary.
func CoerceValue(ft schema.FieldType, raw interface{}) (interface{}, error) {
	switch ft {
	case schema.FieldTypeString:
		return CoerceString(raw), nil
	case schema.FieldTypeInt:
		return coerceInt(raw)
	case schema.FieldTypeFloat:
		return coerceFloat(raw)
	case schema.FieldTypeBool:
		return coerceBool(raw)
	case schema.FieldTypeTimestamp:
		return coerceTimestamp(raw)
	case schema.FieldTypeDate:
		return coerceDate(raw)
	case schema.FieldTypePoint:
		return CoercePoint(raw)
	case schema.FieldTypeJSON:
		return coerceJSON(raw)
	case schema.FieldTypeBinary:
		return coerceBinary(raw)
	default:
		return nil, errors.Newf(errors.ErrorTypeInternal, "unknown field type %s", ft)
	}
}

func isEmpty(raw interface{}) bool {
	if raw == nil {
		return true
	}
	s, ok := raw.(string)
	return ok && s == ""
}

// CoerceString renders any scalar as a string. Converter kinds use it for
// record identifiers.
func CoerceString(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func coerceInt(raw interface{}) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to int", raw)
	}
}

func coerceFloat(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float", raw)
	}
}

func coerceBool(raw interface{}) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(v))
	default:
		return false, fmt.Errorf("cannot convert %T to bool", raw)
	}
}

func coerceTimestamp(raw interface{}) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		return ParseTimestamp(v)
	case int64:
		return fromEpoch(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return time.Time{}, err
		}
		return fromEpoch(n), nil
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to timestamp", raw)
	}
}

func fromEpoch(n int64) time.Time {
	if n >= epochMillisCutoff || n <= -epochMillisCutoff {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// ParseTimestamp tries the supported layouts in order. Results are
// normalized to UTC so records parsed from offset-bearing inputs compare
// equal regardless of source zone.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp %q", s)
}

func coerceDate(raw interface{}) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC().Truncate(24 * time.Hour), nil
	case string:
		return time.Parse(dateLayout, strings.TrimSpace(v))
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to date", raw)
	}
}

// CoercePoint accepts a schema.Point, a {lon, lat} map, a two element
// slice, or a WKT string.
func CoercePoint(raw interface{}) (schema.Point, error) {
	switch v := raw.(type) {
	case schema.Point:
		return v, nil
	case *schema.Point:
		return *v, nil
	case map[string]interface{}:
		lon, err := lookupCoord(v, "lon", "longitude", "x")
		if err != nil {
			return schema.Point{}, err
		}
		lat, err := lookupCoord(v, "lat", "latitude", "y")
		if err != nil {
			return schema.Point{}, err
		}
		return schema.Point{Lon: lon, Lat: lat}, nil
	case []interface{}:
		if len(v) != 2 {
			return schema.Point{}, fmt.Errorf("point needs 2 coordinates, got %d", len(v))
		}
		lon, err := coerceFloat(v[0])
		if err != nil {
			return schema.Point{}, fmt.Errorf("longitude: %w", err)
		}
		lat, err := coerceFloat(v[1])
		if err != nil {
			return schema.Point{}, fmt.Errorf("latitude: %w", err)
		}
		return schema.Point{Lon: lon, Lat: lat}, nil
	case string:
		return schema.ParsePoint(v)
	default:
		return schema.Point{}, fmt.Errorf("cannot convert %T to point", raw)
	}
}

func lookupCoord(m map[string]interface{}, keys ...string) (float64, error) {
	for _, k := range keys {
		if raw, ok := m[k]; ok {
			return coerceFloat(raw)
		}
	}
	return 0, fmt.Errorf("no %s key in point object", keys[0])
}

func coerceJSON(raw interface{}) (interface{}, error) {
	if s, ok := raw.(string); ok {
		var out interface{}
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("invalid json: %w", err)
		}
		return out, nil
	}
	return raw, nil
}

func coerceBinary(raw interface{}) ([]byte, error) {
	switch v := raw.(type) {
	case []byte:
		return v, nil
	case string:
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid base64: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to binary", raw)
	}
}
