package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// argString returns a trimmed string argument. Numbers are formatted.
func argString(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return formatNumber(v)
	case int:
		return strconv.Itoa(v)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// argNumber returns a numeric argument, accepting numeric strings such as "150,000" or "$95000"
func argNumber(args map[string]any, key string) (float64, bool) {
	var f float64
	switch v := args[key].(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		cleaned := strings.NewReplacer(",", "", "$", "", " ", "").Replace(v)
		if cleaned == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func argNumberPtr(args map[string]any, key string) *float64 {
	f, ok := argNumber(args, key)
	if !ok {
		return nil
	}
	return &f
}

func argIntPtr(args map[string]any, key string) *int {
	f, ok := argNumber(args, key)
	if !ok {
		return nil
	}
	n := int(math.Round(f))
	return &n
}

// argPresent reports whether key holds a usable value
func argPresent(args map[string]any, key string) bool {
	if _, ok := argNumber(args, key); ok {
		return true
	}
	return argString(args, key) != ""
}

// argDisplay formats an argument for a response sentence
func argDisplay(args map[string]any, key string) string {
	if f, ok := argNumber(args, key); ok {
		return formatNumber(f)
	}
	if s := argString(args, key); s != "" {
		return s
	}
	return "unknown"
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
