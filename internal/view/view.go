// Package view holds the paginated, searchable table over a result set.
package view

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/opensource-finance/riskboard/internal/domain"
)

// DefaultPageSize is the number of rows per page.
const DefaultPageSize = 10000

// JumpStep is how many pages the back and forward jumps move.
const JumpStep = 100

// Filter returns the records whose identifier contains query, ignoring
// case. An empty query returns list itself.
func Filter(list []domain.ProcessedTransaction, query string) []domain.ProcessedTransaction {
	if query == "" {
		return list
	}
	q := strings.ToLower(query)
	out := make([]domain.ProcessedTransaction, 0)
	for i := range list {
		if strings.Contains(strings.ToLower(list[i].Identifier()), q) {
			out = append(out, list[i])
		}
	}
	return out
}

// Jump is a coarse navigation direction.
type Jump string

const (
	JumpStart   Jump = "start"
	JumpBack    Jump = "back"
	JumpForward Jump = "forward"
	JumpEnd     Jump = "end"
)

// ParseJump validates a direction name.
func ParseJump(s string) (Jump, error) {
	switch j := Jump(strings.ToLower(s)); j {
	case JumpStart, JumpBack, JumpForward, JumpEnd:
		return j, nil
	}
	return "", fmt.Errorf("%w: unknown jump %q", domain.ErrInvalidInput, s)
}

// PageLabel is one entry of the pager. Ellipsis entries carry no page.
type PageLabel struct {
	Page     int  `json:"page,omitempty"`
	Ellipsis bool `json:"ellipsis,omitempty"`
	Current  bool `json:"current,omitempty"`
}

// Table is the view state over one immutable result set. It is safe for
// concurrent use.
type Table struct {
	mu       sync.RWMutex
	all      []domain.ProcessedTransaction
	filtered []domain.ProcessedTransaction
	query    string
	page     int
	pageSize int
}

// NewTable returns a table on page 1 with no query. pageSize <= 0 means
// DefaultPageSize.
func NewTable(list []domain.ProcessedTransaction, pageSize int) *Table {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Table{
		all:      list,
		filtered: list,
		page:     1,
		pageSize: pageSize,
	}
}

// SetQuery changes the search query and always goes back to page 1. The
// filter is only recomputed when the query actually changes.
func (t *Table) SetQuery(query string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setQuery(query)
}

func (t *Table) setQuery(query string) {
	if query != t.query {
		t.query = query
		t.filtered = Filter(t.all, query)
	}
	t.page = 1
}

// Query returns the current search query.
func (t *Table) Query() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.query
}

// Page returns the current page, starting at 1.
func (t *Table) Page() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.page
}

// PageSize returns the rows per page.
func (t *Table) PageSize() int {
	return t.pageSize
}

// Len returns the number of rows matching the query.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.filtered)
}

// TotalPages is never below 1.
func (t *Table) TotalPages() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalPages()
}

func (t *Table) totalPages() int {
	n := (len(t.filtered) + t.pageSize - 1) / t.pageSize
	return max(1, n)
}

// GoTo moves to page p clamped into range.
func (t *Table) GoTo(p int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.goTo(p)
}

func (t *Table) goTo(p int) {
	t.page = clamp(p, 1, t.totalPages())
}

// Jump moves to the first or last page, or JumpStep pages back or forward.
func (t *Table) Jump(j Jump) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jump(j)
}

func (t *Table) jump(j Jump) {
	total := t.totalPages()
	switch j {
	case JumpStart:
		t.page = 1
	case JumpBack:
		t.page = max(1, t.page-JumpStep)
	case JumpForward:
		t.page = min(total, t.page+JumpStep)
	case JumpEnd:
		t.page = total
	}
}

// JumpToFraction moves to round(TotalPages*f). f is clamped to [0,1] first,
// so the result always lies in [1, TotalPages]. NaN is ignored.
func (t *Table) JumpToFraction(f float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jumpToFraction(f)
}

func (t *Table) jumpToFraction(f float64) {
	if math.IsNaN(f) {
		return
	}
	f = math.Min(math.Max(f, 0), 1)
	total := t.totalPages()
	t.page = clamp(int(math.Round(float64(total)*f)), 1, total)
}

// Navigation is one request's worth of table moves. Unset fields are
// skipped.
type Navigation struct {
	Query    *string
	Page     int
	Jump     Jump
	Fraction *float64
}

// Apply runs nav in order (query, page, jump, fraction) and returns the
// resulting snapshot, all under one lock.
func (t *Table) Apply(nav Navigation) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if nav.Query != nil {
		t.setQuery(*nav.Query)
	}
	if nav.Page != 0 {
		t.goTo(nav.Page)
	}
	if nav.Jump != "" {
		t.jump(nav.Jump)
	}
	if nav.Fraction != nil {
		t.jumpToFraction(*nav.Fraction)
	}
	return t.snapshot()
}

// PageSlice returns the rows of the current page. The slice aliases the
// underlying list and must not be modified.
func (t *Table) PageSlice() []domain.ProcessedTransaction {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pageSlice()
}

func (t *Table) pageSlice() []domain.ProcessedTransaction {
	start := (t.page - 1) * t.pageSize
	if start >= len(t.filtered) {
		return t.filtered[len(t.filtered):]
	}
	end := min(start+t.pageSize, len(t.filtered))
	return t.filtered[start:end]
}

// PageLabels returns the pager entries: every page when there are at most
// three, otherwise the first page, the current one, the last one and an
// ellipsis for each gap.
func (t *Table) PageLabels() []PageLabel {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Labels(t.page, t.totalPages())
}

// Labels computes pager entries for a position.
func Labels(current, total int) []PageLabel {
	if total <= 3 {
		out := make([]PageLabel, 0, total)
		for p := 1; p <= total; p++ {
			out = append(out, PageLabel{Page: p, Current: p == current})
		}
		return out
	}

	out := []PageLabel{{Page: 1, Current: current == 1}}
	if current > 2 {
		out = append(out, PageLabel{Ellipsis: true})
	}
	if current > 1 && current < total {
		out = append(out, PageLabel{Page: current, Current: true})
	}
	if current < total-1 {
		out = append(out, PageLabel{Ellipsis: true})
	}
	return append(out, PageLabel{Page: total, Current: current == total})
}

// Snapshot is a consistent read of the table state.
type Snapshot struct {
	Query      string                        `json:"query"`
	Page       int                           `json:"page"`
	PageSize   int                           `json:"pageSize"`
	TotalPages int                           `json:"totalPages"`
	Total      int                           `json:"total"`
	Matched    int                           `json:"matched"`
	Labels     []PageLabel                   `json:"labels"`
	Rows       []domain.ProcessedTransaction `json:"rows"`
}

// Snapshot returns the current page together with the pager state.
func (t *Table) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot()
}

func (t *Table) snapshot() Snapshot {
	total := t.totalPages()
	return Snapshot{
		Query:      t.query,
		Page:       t.page,
		PageSize:   t.pageSize,
		TotalPages: total,
		Total:      len(t.all),
		Matched:    len(t.filtered),
		Labels:     Labels(t.page, total),
		Rows:       t.pageSlice(),
	}
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
