package env

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Lookup returns the trimmed value of key and whether it is non-empty.
func Lookup(key string) (string, bool) {
	_ = Ensure()
	val := strings.TrimSpace(os.Getenv(key))
	return val, val != ""
}

// String returns the variable or fallback when unset.
func String(key, fallback string) string {
	if val, ok := Lookup(key); ok {
		return val
	}
	return fallback
}

// Int returns the variable as an int, or fallback when unset or invalid.
func Int(key string, fallback int) int {
	if val, ok := Lookup(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

// Duration accepts Go durations ("5s") and bare integers, read as
// milliseconds ("5000").
func Duration(key string, fallback time.Duration) time.Duration {
	val, ok := Lookup(key)
	if !ok {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

// Bool understands 1/0, true/false and yes/no.
func Bool(key string, fallback bool) bool {
	val, ok := Lookup(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return fallback
}
