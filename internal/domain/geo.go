package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EarthRadiusKm is the mean Earth radius used by DistanceKm.
const EarthRadiusKm = 6371.0

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether both components are finite and within range.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// String renders the coordinate in the persisted "lat,lng" form.
func (c Coordinate) String() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lng, 'f', -1, 64)
}

// DistanceKm returns the great-circle distance between two points using the
// haversine formula. NaN inputs produce NaN.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// Distance is DistanceKm over coordinates.
func Distance(a, b Coordinate) float64 {
	return DistanceKm(a.Lat, a.Lng, b.Lat, b.Lng)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

var errLocationFormat = errors.New("location must be \"lat,lng\", [lat, lng] or {\"lat\":..,\"lng\":..}")

// ParseLocation accepts the location encodings clients have historically
// sent: "lat,lng", a JSON array of numbers or numeric strings, or a JSON
// object with lat/lng (or latitude/longitude) keys.
func ParseLocation(raw string) (Coordinate, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Coordinate{}, errLocationFormat
	}

	var (
		c   Coordinate
		err error
	)
	switch s[0] {
	case '[':
		c, err = parseLocationArray(s)
	case '{':
		c, err = parseLocationObject(s)
	case '"':
		var inner string
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			return Coordinate{}, fmt.Errorf("decode location string: %w", err)
		}
		return ParseLocation(inner)
	default:
		parts := strings.Split(s, ",")
		if len(parts) != 2 {
			return Coordinate{}, errLocationFormat
		}
		c.Lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err == nil {
			c.Lng, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		}
	}
	if err != nil {
		return Coordinate{}, err
	}
	if !c.Valid() {
		return Coordinate{}, fmt.Errorf("location %s out of range", c)
	}
	return c, nil
}

func parseLocationArray(s string) (Coordinate, error) {
	var parts []any
	if err := json.Unmarshal([]byte(s), &parts); err != nil {
		return Coordinate{}, fmt.Errorf("decode location array: %w", err)
	}
	if len(parts) != 2 {
		return Coordinate{}, errLocationFormat
	}
	lat, err := NumberValue(parts[0])
	if err != nil {
		return Coordinate{}, err
	}
	lng, err := NumberValue(parts[1])
	if err != nil {
		return Coordinate{}, err
	}
	return Coordinate{Lat: lat, Lng: lng}, nil
}

func parseLocationObject(s string) (Coordinate, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return Coordinate{}, fmt.Errorf("decode location object: %w", err)
	}
	lat, ok := firstKey(obj, "lat", "latitude")
	if !ok {
		return Coordinate{}, errLocationFormat
	}
	lng, ok := firstKey(obj, "lng", "lon", "longitude")
	if !ok {
		return Coordinate{}, errLocationFormat
	}
	latF, err := NumberValue(lat)
	if err != nil {
		return Coordinate{}, err
	}
	lngF, err := NumberValue(lng)
	if err != nil {
		return Coordinate{}, err
	}
	return Coordinate{Lat: latF, Lng: lngF}, nil
}

func firstKey(obj map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// NumberValue converts a decoded JSON value (number or numeric string) to a
// float64.
func NumberValue(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}
