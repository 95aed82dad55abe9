// Package limitio enforces byte ceilings on streaming copies.
package limitio

import (
	"errors"
	"io"
)

// ErrLimitExceeded reports that a copy consumed more bytes than its ceiling.
var ErrLimitExceeded = errors.New("limitio: byte limit exceeded")

// Copy streams src into dst and fails as soon as src yields more than limit
// bytes. It returns the number of bytes written; on failure the partial
// output is the caller's to discard.
func Copy(dst io.Writer, src io.Reader, limit int64) (int64, error) {
	n, err := io.Copy(dst, io.LimitReader(src, limit))
	if err != nil {
		return n, err
	}
	var probe [1]byte
	switch _, perr := io.ReadFull(src, probe[:]); perr {
	case io.EOF:
		return n, nil
	case nil:
		return n, ErrLimitExceeded
	default:
		return n, perr
	}
}

// Budget is a cumulative byte allowance drawn down by successive copies.
// It is not safe for concurrent use.
type Budget struct {
	remaining int64
}

// NewBudget returns a budget allowing up to n bytes in total.
func NewBudget(n int64) *Budget {
	return &Budget{remaining: n}
}

// Remaining reports how many bytes the budget still allows.
func (b *Budget) Remaining() int64 {
	return b.remaining
}

// Copy streams src into dst, charging the bytes written against the budget
// and failing the moment the budget would be overdrawn.
func (b *Budget) Copy(dst io.Writer, src io.Reader) (int64, error) {
	n, err := Copy(dst, src, b.remaining)
	b.remaining -= n
	if b.remaining < 0 {
		b.remaining = 0
	}
	return n, err
}
