package hal

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseParameters splits a "key=value;key=value" string into a map.
// Values keep their textual form; callers convert as needed.
func ParseParameters(kv string) (map[string]string, error) {
	params := make(map[string]string)
	for _, pair := range strings.Split(kv, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("malformed parameter %q", pair)
		}
		params[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return params, nil
}

// IntParameter returns the integer value stored under key, or def when unset
func IntParameter(params map[string]string, key string, def int) (int, error) {
	raw, ok := params[key]
	if !ok {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", key, err)
	}
	return v, nil
}
