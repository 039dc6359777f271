package utils

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// Size limits (in bytes)
const (
	MaxEnvelopeSize = 1 * 1024 * 1024 // 1MB - single inbound envelope
	MaxScriptSize   = 1 * 1024 * 1024 // 1MB - one execute call or all bootstrap scripts together
)

// Structure limits
const (
	MaxEnvelopeDepth = 32
	MaxNameLength    = 256
)

// SizeError reports a payload over its limit
type SizeError struct {
	What  string
	Size  int
	Limit int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("%s size %d bytes exceeds maximum %d bytes", e.What, e.Size, e.Limit)
}

// ValidateSize checks a payload against a byte limit
func ValidateSize(what string, size, limit int) error {
	if size > limit {
		return &SizeError{What: what, Size: size, Limit: limit}
	}
	return nil
}

// ValidateEnvelope checks an inbound envelope's size and nesting before it
// is decoded for the guest
func ValidateEnvelope(data []byte) error {
	if err := ValidateSize("envelope", len(data), MaxEnvelopeSize); err != nil {
		return err
	}

	var v any
	if err := sonic.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if _, ok := v.(map[string]any); !ok {
		return fmt.Errorf("envelope must be a JSON object")
	}
	return ValidateJSONDepth(v, MaxEnvelopeDepth)
}

// ValidateScripts checks the combined size of guest sources
func ValidateScripts(scripts ...string) error {
	total := 0
	for _, s := range scripts {
		total += len(s)
	}
	return ValidateSize("script", total, MaxScriptSize)
}

// ValidateJSONDepth checks if JSON nesting depth is within limits
func ValidateJSONDepth(data any, maxDepth int) error {
	return checkDepth(data, 0, maxDepth)
}

func checkDepth(data any, currentDepth int, maxDepth int) error {
	if currentDepth > maxDepth {
		return fmt.Errorf("JSON nesting depth %d exceeds maximum %d", currentDepth, maxDepth)
	}

	switch v := data.(type) {
	case map[string]any:
		for _, value := range v {
			if err := checkDepth(value, currentDepth+1, maxDepth); err != nil {
				return err
			}
		}
	case []any:
		for _, value := range v {
			if err := checkDepth(value, currentDepth+1, maxDepth); err != nil {
				return err
			}
		}
	}

	return nil
}

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateName validates an optional session display name
func ValidateName(name string) error {
	return ValidateString(name, "name", 1, MaxNameLength, false)
}
