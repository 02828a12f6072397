package testutil

import (
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoroutineTest_CollectsNothingOnSuccess(t *testing.T) {
	gt := NewGoroutineTest(t)
	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		gt.Go(func() error {
			ran.Add(1)
			return nil
		})
	}
	gt.Wait()

	if ran.Load() != 5 {
		t.Errorf("expected 5 goroutines to run, got %d", ran.Load())
	}
}

func TestWithTimeout(t *testing.T) {
	if err := WithTimeout(time.Second, func() error { return nil }); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	sentinel := errors.New("boom")
	if err := WithTimeout(time.Second, func() error { return sentinel }); !errors.Is(err, sentinel) {
		t.Errorf("expected sentinel, got %v", err)
	}

	err := WithTimeout(10*time.Millisecond, func() error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	if err == nil {
		t.Error("expected timeout error")
	}
}

func TestEventually(t *testing.T) {
	start := time.Now()
	err := Eventually(time.Second, 5*time.Millisecond, func() bool {
		return time.Since(start) > 20*time.Millisecond
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := Eventually(20*time.Millisecond, 5*time.Millisecond, func() bool { return false }); err == nil {
		t.Error("expected error for a condition that never holds")
	}
}

func TestSplitRows(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a\n", []string{"a"}},
		{"a\nb\n", []string{"a", "b"}},
		{"a\nb", []string{"a", "b"}},
	}
	for _, tt := range tests {
		got := SplitRows([]byte(tt.in))
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitRows(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitFields(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{`a\,b,c`, []string{`a\,b`, "c"}},
		{`\N,1`, []string{`\N`, "1"}},
		{`x\\,y`, []string{`x\\`, "y"}},
		{",", []string{"", ""}},
	}
	for _, tt := range tests {
		got := SplitFields(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitFields(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
