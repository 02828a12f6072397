package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCategories(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		validation bool
		lifecycle  bool
		bulkLoad   bool
		connLost   bool
	}{
		{"missing field", NewMissingField("name"), true, false, false, false},
		{"invalid value", NewInvalidValue("apid", 4096, "outside 0..2047"), true, false, false, false},
		{"field count", fmt.Errorf("evr: %w", ErrFieldCount), true, false, false, false},
		{"store stopped", ErrStoreStopped, false, true, false, false},
		{"queue draining", Wrap(ErrQueueDraining, "offer"), false, true, false, false},
		{"connection lost", Wrapf(ErrConnectionLost, "load %s", "f.ldi"), false, false, true, true},
		{"unsupported clause", ErrUnsupportedClause, false, false, true, false},
		{"plain", errors.New("boom"), false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidation(tt.err); got != tt.validation {
				t.Errorf("IsValidation = %v, want %v", got, tt.validation)
			}
			if got := IsLifecycle(tt.err); got != tt.lifecycle {
				t.Errorf("IsLifecycle = %v, want %v", got, tt.lifecycle)
			}
			if got := IsBulkLoad(tt.err); got != tt.bulkLoad {
				t.Errorf("IsBulkLoad = %v, want %v", got, tt.bulkLoad)
			}
			if got := IsConnectionLost(tt.err); got != tt.connLost {
				t.Errorf("IsConnectionLost = %v, want %v", got, tt.connLost)
			}
		})
	}
}

func TestDataError(t *testing.T) {
	err := NewDataError("evr", "17", NewMissingField("level"))

	var de *DataError
	if !As(err, &de) {
		t.Fatalf("expected DataError, got %T", err)
	}
	if de.Store != "evr" || de.Key != "17" {
		t.Errorf("DataError = %+v", de)
	}
	if !Is(err, ErrMissingField) {
		t.Error("DataError should unwrap to its cause")
	}
	if got, want := err.Error(), "evr record 17: level: missing required field"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if got := NewDataError("frame", "", ErrValidation).Error(); got != "frame: validation failed" {
		t.Errorf("Error() without key = %q", got)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "ctx") != nil || Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestNewInvalidConfig(t *testing.T) {
	err := NewInvalidConfig("row_limit", "must be positive")
	if !Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if IsValidation(err) {
		t.Error("config errors are not record validation errors")
	}
}
