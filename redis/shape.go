package redis

import (
	"strconv"
)

// Shaper converts successful raw result into form convenient for caller.
// It should return error value (not panic) if result has unexpected type.
type Shaper func(res interface{}) interface{}

// Shape applies shaper to result, leaving errors untouched.
func Shape(shape Shaper, res interface{}) interface{} {
	if shape == nil {
		return res
	}
	if _, ok := res.(error); ok {
		return res
	}
	return shape(res)
}

func unexpected(res interface{}) interface{} {
	return ErrResponseUnexpected.NewWithNoMessage().WithProperty(EKResponse, res)
}

// ShapeBool converts integer reply 0/1 and "OK" status to bool.
// Null reply becomes false.
func ShapeBool(res interface{}) interface{} {
	switch v := res.(type) {
	case int64:
		return v != 0
	case string:
		return v == "OK"
	case nil:
		return false
	}
	return unexpected(res)
}

// ShapeFloat converts bulk or integer reply to float64. Null stays null.
func ShapeFloat(res interface{}) interface{} {
	switch v := res.(type) {
	case nil:
		return nil
	case float64:
		return v
	case int64:
		return float64(v)
	}
	if b, ok := bytesOf(res); ok {
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f
		}
	}
	return unexpected(res)
}

// ShapeStrings converts array of bulks to []string. Null elements become empty strings.
func ShapeStrings(res interface{}) interface{} {
	arr, ok := res.([]interface{})
	if !ok {
		return unexpected(res)
	}
	strs := make([]string, len(arr))
	for i, el := range arr {
		if el == nil {
			continue
		}
		b, ok := bytesOf(el)
		if !ok {
			return unexpected(res)
		}
		strs[i] = string(b)
	}
	return strs
}

// ShapeMap converts flat array of field-value pairs (HGETALL, CONFIG GET) to map.
func ShapeMap(res interface{}) interface{} {
	arr, ok := res.([]interface{})
	if !ok || len(arr)%2 != 0 {
		return unexpected(res)
	}
	m := make(map[string]interface{}, len(arr)/2)
	for i := 0; i < len(arr); i += 2 {
		k, ok := bytesOf(arr[i])
		if !ok {
			return unexpected(res)
		}
		m[string(k)] = arr[i+1]
	}
	return m
}
