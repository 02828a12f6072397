// Package validation provides the record-level checks shared by the stores.
//
// Hard failures return errors wrapping ErrValidation or ErrMissingField;
// the store discards the record. Soft problems (oversized strings, out of
// session stations) are not errors here; stores complain and continue.
package validation

import (
	"fmt"
	"regexp"
	"time"

	"github.com/xtxerr/tlmarchive/internal/errors"
)

// =============================================================================
// Identifier Validation
// =============================================================================

// MaxChannelIDLength is the width of the channelId column.
const MaxChannelIDLength = 9

// channelIDPattern matches a channel stem and number, e.g. "A-0001" or
// "THRM-1234".
var channelIDPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,3}-[0-9]{1,5}$`)

// ValidateChannelID checks a channel identifier.
func ValidateChannelID(id string) error {
	if id == "" {
		return errors.NewMissingField("channelId")
	}
	if len(id) > MaxChannelIDLength {
		return errors.NewInvalidValue("channelId", id, fmt.Sprintf("longer than %d characters", MaxChannelIDLength))
	}
	if !channelIDPattern.MatchString(id) {
		return errors.NewInvalidValue("channelId", id, "expected STEM-NNNN")
	}
	return nil
}

// ValidateNoControl rejects strings containing control characters other
// than tab, newline and carriage return.
func ValidateNoControl(field, v string) error {
	for i, r := range v {
		if (r < 32 && r != '\t' && r != '\n' && r != '\r') || r == 127 {
			return errors.NewInvalidValue(field, v, fmt.Sprintf("control character at position %d", i))
		}
	}
	return nil
}

// =============================================================================
// Required Fields
// =============================================================================

// Required returns ErrMissingField for an empty string.
func Required(field, v string) error {
	if v == "" {
		return errors.NewMissingField(field)
	}
	return nil
}

// RequiredTime returns ErrMissingField for the zero time.
func RequiredTime(field string, v time.Time) error {
	if v.IsZero() {
		return errors.NewMissingField(field)
	}
	return nil
}

// RequiredBytes returns ErrMissingField for nil or empty data.
func RequiredBytes(field string, v []byte) error {
	if len(v) == 0 {
		return errors.NewMissingField(field)
	}
	return nil
}

// =============================================================================
// Numeric Ranges
// =============================================================================

// Telemetry field ranges.
const (
	MaxAPID = 2047
	MaxVCID = 63
	MaxSPSC = 16383
)

// Range checks min <= v <= max.
func Range(field string, v, min, max int64) error {
	if v < min || v > max {
		return errors.NewInvalidValue(field, v, fmt.Sprintf("outside [%d, %d]", min, max))
	}
	return nil
}

// NonNegative checks v >= 0.
func NonNegative(field string, v int64) error {
	if v < 0 {
		return errors.NewInvalidValue(field, v, "must not be negative")
	}
	return nil
}

// APID checks an application process identifier.
func APID(v int32) error {
	return Range("apid", int64(v), 0, MaxAPID)
}

// VCID checks a virtual channel identifier.
func VCID(v int32) error {
	return Range("vcid", int64(v), 0, MaxVCID)
}

// =============================================================================
// Choices
// =============================================================================

// OneOf checks that v is one of the allowed values.
func OneOf(field, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return errors.NewInvalidValue(field, v, fmt.Sprintf("expected one of %v", allowed))
}

// All returns the joined errors of every failed check, or nil.
func All(errs ...error) error {
	return errors.Join(errs...)
}
