package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// ErrInvalid marks input that failed validation.
var ErrInvalid = errors.New("invalid input")

// Limits on what UI clients may send.
const (
	MaxParamsSize  = 4 * 1024 * 1024 // one operation's params
	MaxParamsDepth = 64
	MaxIDLength    = 128

	// MaxRequestIDLength bounds a pending request id echoed back by a client.
	MaxRequestIDLength = 4096
)

// SafeIDPattern admits the thread ids the app-server mints: alphanumerics
// plus - _ . and :
var SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if value == "" {
		if required {
			return invalid("%s is required", fieldName)
		}
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return invalid("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return invalid("%s must not exceed %d characters", fieldName, maxLen)
	}
	if strings.Contains(value, "\x00") {
		return invalid("%s contains invalid characters", fieldName)
	}
	return nil
}

// ValidateID validates a required request or session id.
func ValidateID(id, fieldName string) error {
	if err := ValidateString(id, fieldName, 1, MaxIDLength, true); err != nil {
		return err
	}
	if !SafeIDPattern.MatchString(id) {
		return invalid("%s contains invalid characters", fieldName)
	}
	return nil
}

// ValidateRequestID checks a pending request id sent back by a client. The
// app-server may use any JSON string as an id, so only presence and length
// are checked here; whether it is pending is up to the caller.
func ValidateRequestID(id, fieldName string) error {
	if id == "" {
		return invalid("%s is required", fieldName)
	}
	if len(id) > MaxRequestIDLength {
		return invalid("%s must not exceed %d bytes", fieldName, MaxRequestIDLength)
	}
	return nil
}

// ValidateParams checks an operation's raw params for size, syntax and
// nesting depth. Empty params are valid.
func ValidateParams(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if len(data) > MaxParamsSize {
		return invalid("params size %d bytes exceeds maximum %d bytes", len(data), MaxParamsSize)
	}
	var v any
	if err := sonic.Unmarshal(data, &v); err != nil {
		return invalid("params are not valid JSON: %v", err)
	}
	return ValidateJSONDepth(v, MaxParamsDepth)
}

// ValidateJSONDepth checks if JSON nesting depth is within limits
func ValidateJSONDepth(data any, maxDepth int) error {
	return checkDepth(data, 0, maxDepth)
}

func checkDepth(data any, currentDepth, maxDepth int) error {
	if currentDepth > maxDepth {
		return invalid("JSON nesting depth exceeds maximum %d", maxDepth)
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
