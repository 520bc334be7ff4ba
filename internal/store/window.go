package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/franz/listen-stats/internal/util"
)

// Window is an inclusive [From, To] date range. A nil bound leaves that side open.
type Window struct {
	From *time.Time
	To   *time.Time
}

// FilterByDate builds the window used to filter listens
func FilterByDate(from, to *time.Time) Window {
	return Window{From: from, To: to}
}

// Between is FilterByDate for two concrete bounds
func Between(from, to time.Time) Window {
	return Window{From: &from, To: &to}
}

// Validate fails with util.ErrInvalidRange when From is after To
func (w Window) Validate() error {
	if w.From != nil && w.To != nil && w.From.After(*w.To) {
		return fmt.Errorf("%w: from %s is after to %s",
			util.ErrInvalidRange, w.From.Format(time.RFC3339), w.To.Format(time.RFC3339))
	}
	return nil
}

// Contains reports whether t lies inside the window, bounds included
func (w Window) Contains(t time.Time) bool {
	if w.From != nil && t.Before(*w.From) {
		return false
	}
	if w.To != nil && t.After(*w.To) {
		return false
	}
	return true
}

// IsZero reports whether both bounds are open
func (w Window) IsZero() bool {
	return w.From == nil && w.To == nil
}

func (w Window) String() string {
	bound := func(t *time.Time) string {
		if t == nil {
			return "…"
		}
		return t.Format("2006-01-02 15:04")
	}
	return fmt.Sprintf("[%s, %s]", bound(w.From), bound(w.To))
}

// where renders the window as a SQL clause over played_at (unix milliseconds)
func (w Window) where() (string, []any) {
	switch {
	case w.From != nil && w.To != nil:
		return "WHERE played_at >= ? AND played_at <= ?", []any{ceilMillis(*w.From), w.To.UnixMilli()}
	case w.From != nil:
		return "WHERE played_at >= ?", []any{ceilMillis(*w.From)}
	case w.To != nil:
		return "WHERE played_at <= ?", []any{w.To.UnixMilli()}
	}
	return "", nil
}

// ceilMillis rounds a lower bound up so sub-millisecond bounds stay inclusive-correct
func ceilMillis(t time.Time) int64 {
	ms := t.UnixMilli()
	if t.Sub(time.UnixMilli(ms)) > 0 {
		ms++
	}
	return ms
}

// ParseWindow builds a window from optional "from" and "to" strings.
// Each accepts 2006-01-02 or RFC3339; a date-only "to" covers that whole day.
// Malformed dates and from > to fail with util.ErrInvalidArgument.
func ParseWindow(from, to string) (Window, error) {
	var w Window

	if from = strings.TrimSpace(from); from != "" {
		t, err := parseBound(from, false)
		if err != nil {
			return Window{}, util.InvalidArgumentf("invalid from date %q", from)
		}
		w.From = &t
	}
	if to = strings.TrimSpace(to); to != "" {
		t, err := parseBound(to, true)
		if err != nil {
			return Window{}, util.InvalidArgumentf("invalid to date %q", to)
		}
		w.To = &t
	}

	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

func parseBound(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		if endOfDay {
			return t.AddDate(0, 0, 1).Add(-time.Millisecond), nil
		}
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
