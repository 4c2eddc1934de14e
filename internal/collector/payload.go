package collector

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// powerflowData extracts the data object from a power-flow payload. The
// vendor is inconsistent about the envelope key's case.
func powerflowData(raw json.RawMessage) (map[string]any, bool) {
	var envelope struct {
		Data      map[string]any `json:"data"`
		DataUpper map[string]any `json:"Data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, false
	}
	if envelope.Data != nil {
		return envelope.Data, true
	}
	if envelope.DataUpper != nil {
		return envelope.DataUpper, true
	}
	return nil, false
}

// pickNumber returns the first finite numeric value among the named keys.
// The vendor reports numbers both as JSON numbers and as strings.
func pickNumber(data map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		v, ok := data[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			if !math.IsNaN(n) && !math.IsInf(n, 0) {
				return n, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, true
			}
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
