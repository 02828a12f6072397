package validation

import (
	"testing"
	"time"

	"github.com/xtxerr/tlmarchive/internal/errors"
)

func TestValidateChannelID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"simple", "A-0001", nil},
		{"long stem", "THRM-1234", nil},
		{"digits in stem", "B2-17", nil},
		{"empty", "", errors.ErrMissingField},
		{"lower case", "a-0001", errors.ErrValidation},
		{"no dash", "A0001", errors.ErrValidation},
		{"too long", "ABCD-123456", errors.ErrValidation},
		{"stem too long", "ABCDE-1", errors.ErrValidation},
		{"trailing junk", "A-0001x", errors.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChannelID(tt.input)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateChannelID(%q) = %v", tt.input, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateChannelID(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateNoControl(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"plain text", false},
		{"tab\tand\nnewline", false},
		{"nul\x00byte", true},
		{"bell\x07", true},
		{"del\x7f", true},
	}

	for _, tt := range tests {
		err := ValidateNoControl("message", tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateNoControl(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}

func TestRequired(t *testing.T) {
	if err := Required("name", ""); !errors.Is(err, errors.ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
	if err := Required("name", "x"); err != nil {
		t.Errorf("unexpected error %v", err)
	}
	if err := RequiredTime("ert", time.Time{}); !errors.Is(err, errors.ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
	if err := RequiredTime("ert", time.Now()); err != nil {
		t.Errorf("unexpected error %v", err)
	}
	if err := RequiredBytes("body", nil); !errors.Is(err, errors.ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
}

func TestRanges(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"apid ok", APID(2047), false},
		{"apid high", APID(2048), true},
		{"apid negative", APID(-1), true},
		{"vcid ok", VCID(0), false},
		{"vcid high", VCID(64), true},
		{"non-negative", NonNegative("length", 0), false},
		{"negative", NonNegative("length", -5), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if (tt.err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", tt.err, tt.wantErr)
			}
			if tt.err != nil && !errors.IsValidation(tt.err) {
				t.Errorf("expected validation error, got %v", tt.err)
			}
		})
	}
}

func TestOneOfAndAll(t *testing.T) {
	if err := OneOf("direction", "IN", "IN", "OUT"); err != nil {
		t.Errorf("unexpected error %v", err)
	}
	if err := OneOf("direction", "UP", "IN", "OUT"); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}

	if err := All(nil, nil); err != nil {
		t.Errorf("All(nil, nil) = %v", err)
	}
	err := All(Required("a", ""), APID(5000))
	if !errors.Is(err, errors.ErrMissingField) || !errors.Is(err, errors.ErrValidation) {
		t.Errorf("All should keep both failures, got %v", err)
	}
}
