package limitio_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"buildforge/pkg/limitio"
)

func TestCopyWithinLimit(t *testing.T) {
	cases := []struct {
		name  string
		input string
		limit int64
	}{
		{"empty under zero limit", "", 0},
		{"short of limit", "hello", 16},
		{"exactly at limit", "hello", 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var dst bytes.Buffer
			n, err := limitio.Copy(&dst, strings.NewReader(tc.input), tc.limit)
			if err != nil {
				t.Fatalf("Copy() error = %v, want nil", err)
			}
			if n != int64(len(tc.input)) {
				t.Fatalf("Copy() n = %d, want %d", n, len(tc.input))
			}
			if dst.String() != tc.input {
				t.Fatalf("Copy() wrote %q, want %q", dst.String(), tc.input)
			}
		})
	}
}

func TestCopyOneByteOverLimitFails(t *testing.T) {
	var dst bytes.Buffer
	_, err := limitio.Copy(&dst, strings.NewReader("123456"), 5)
	if !errors.Is(err, limitio.ErrLimitExceeded) {
		t.Fatalf("Copy() error = %v, want ErrLimitExceeded", err)
	}
}

func TestCopyZeroLimitRejectsAnyByte(t *testing.T) {
	var dst bytes.Buffer
	_, err := limitio.Copy(&dst, strings.NewReader("x"), 0)
	if !errors.Is(err, limitio.ErrLimitExceeded) {
		t.Fatalf("Copy() error = %v, want ErrLimitExceeded", err)
	}
}

func TestBudgetSpansCopies(t *testing.T) {
	b := limitio.NewBudget(10)

	var dst bytes.Buffer
	if _, err := b.Copy(&dst, strings.NewReader("1234")); err != nil {
		t.Fatalf("first copy error = %v, want nil", err)
	}
	if b.Remaining() != 6 {
		t.Fatalf("Remaining() = %d after first copy, want 6", b.Remaining())
	}
	if _, err := b.Copy(&dst, strings.NewReader("123456")); err != nil {
		t.Fatalf("second copy error = %v, want nil", err)
	}
	if b.Remaining() != 0 {
		t.Fatalf("Remaining() = %d after second copy, want 0", b.Remaining())
	}

	// The budget is spent; even a single further byte must be refused.
	if _, err := b.Copy(&dst, strings.NewReader("x")); !errors.Is(err, limitio.ErrLimitExceeded) {
		t.Fatalf("third copy error = %v, want ErrLimitExceeded", err)
	}
}

func TestBudgetAbortsMidCopy(t *testing.T) {
	b := limitio.NewBudget(8)

	var dst bytes.Buffer
	_, err := b.Copy(&dst, strings.NewReader("0123456789abcdef"))
	if !errors.Is(err, limitio.ErrLimitExceeded) {
		t.Fatalf("Copy() error = %v, want ErrLimitExceeded", err)
	}
	if b.Remaining() != 0 {
		t.Fatalf("Remaining() = %d after overdraw, want 0", b.Remaining())
	}
}
