// Package config loads and reads engine and workflow settings.
//
// Config wraps a map[string]any with type-safe accessors; Settings maps a
// well-known layout onto run options and collaborator knobs.
package config

import (
	"time"
)

// Config wraps a map[string]any for type-safe value extraction.
// All accessors return the default when the key is missing or the value
// cannot be converted to the requested type.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map.
// If data is nil, an empty Config is returned.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// String returns the string value for key, or defaultVal.
func (c Config) String(key, defaultVal string) string {
	if s, ok := c.data[key].(string); ok {
		return s
	}
	return defaultVal
}

// Int returns the int value for key, or defaultVal. Floats without a
// fractional part convert; anything else falls back.
func (c Config) Int(key string, defaultVal int) int {
	switch v := c.data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return defaultVal
}

// Float returns the float64 value for key, or defaultVal.
func (c Config) Float(key string, defaultVal float64) float64 {
	switch v := c.data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return defaultVal
}

// Bool returns the bool value for key, or defaultVal.
func (c Config) Bool(key string, defaultVal bool) bool {
	if b, ok := c.data[key].(bool); ok {
		return b
	}
	return defaultVal
}

// Duration returns the duration value for key, or defaultVal.
//
// Accepts:
//   - string: parsed with time.ParseDuration
//   - int / int64 / float64: interpreted as seconds
//   - time.Duration: used directly
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	switch v := c.data[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case time.Duration:
		return v
	}
	return defaultVal
}

// Strings returns the string-slice value for key, or defaultVal. YAML and
// JSON decode lists as []any, so both forms are accepted.
func (c Config) Strings(key string, defaultVal []string) []string {
	switch v := c.data[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return defaultVal
			}
			out = append(out, s)
		}
		return out
	}
	return defaultVal
}

// Sub returns the nested Config under key, or an empty Config.
func (c Config) Sub(key string) Config {
	switch v := c.data[key].(type) {
	case map[string]any:
		return New(v)
	case Config:
		return v
	}
	return New(nil)
}

// Has reports whether the key is present.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}
