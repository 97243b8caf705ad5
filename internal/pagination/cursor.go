// Package pagination provides keyset pagination over (createdAt, id) pairs.
//
// Listings are ordered oldest first with id as a tie breaker. A cursor names
// the last item of the previous page; the next page starts strictly after it,
// so items created concurrently never shift a page boundary.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultLimit applies when the caller gives none.
	DefaultLimit = 50
	// MaxLimit caps a single page.
	MaxLimit = 500
)

// ErrInvalidCursor is returned for cursors this package did not produce.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor represents a position in a paginated result set.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

func (c Cursor) before(createdAt time.Time, id string) bool {
	if !c.CreatedAt.Equal(createdAt) {
		return c.CreatedAt.Before(createdAt)
	}
	return c.ID < id
}

// Encode returns an opaque cursor string from a timestamp and ID.
func Encode(createdAt time.Time, id string) string {
	raw := fmt.Sprintf("%d|%s", createdAt.UnixNano(), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor string. Returns nil for empty input.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}

// ParseLimit reads a limit query value. Empty means DefaultLimit; values
// above MaxLimit are clamped.
func ParseLimit(s string) (int, error) {
	if s == "" {
		return DefaultLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return min(n, MaxLimit), nil
}

// Page is one slice of a listing.
type Page[T any] struct {
	Items      []T
	NextCursor string
	HasMore    bool
}

// Paginate orders items by key and returns the page after cursor. items is
// sorted in place.
func Paginate[T any](items []T, cursor *Cursor, limit int, key func(T) (time.Time, string)) Page[T] {
	sort.SliceStable(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		return Cursor{CreatedAt: ti, ID: idi}.before(tj, idj)
	})

	start := 0
	if cursor != nil {
		start = sort.Search(len(items), func(i int) bool {
			t, id := key(items[i])
			return cursor.before(t, id)
		})
	}
	rest := items[start:]
	if len(rest) <= limit {
		return Page[T]{Items: rest}
	}

	page := rest[:limit]
	t, id := key(page[len(page)-1])
	return Page[T]{Items: page, NextCursor: Encode(t, id), HasMore: true}
}
