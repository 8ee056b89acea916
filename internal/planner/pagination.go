package planner

import (
	"math"

	sq "github.com/Masterminds/squirrel"
)

// Defaults applied when Limits fields are unset.
const (
	DefaultLimit    = 25
	DefaultMaxLimit = 100
)

// Limits bounds the result window of a plan. Zero values fall back to the
// package defaults.
type Limits struct {
	// DefaultLimit is the page size used when a page is requested without
	// an explicit limit.
	DefaultLimit int
	// MaxLimit caps any requested take or limit.
	MaxLimit int
}

func (l Limits) effectiveDefault() int {
	if l.DefaultLimit <= 0 {
		return DefaultLimit
	}
	return l.DefaultLimit
}

func (l Limits) effectiveMax() int {
	if l.MaxLimit <= 0 {
		return DefaultMaxLimit
	}
	return l.MaxLimit
}

// Pagination is the request window, in offset form (skip/take) or page form
// (page/limit). The two forms must not be mixed.
type Pagination struct {
	Skip  *int `json:"skip,omitempty"`
	Take  *int `json:"take,omitempty"`
	Page  *int `json:"page,omitempty"`
	Limit *int `json:"limit,omitempty"`
}

// window is a normalized pagination request. hasLimit is false only for the
// skip-without-take form, which reads to the end of the result set.
type window struct {
	offset   uint64
	limit    uint64
	hasLimit bool
}

// normalize validates the request and converts the page form into offsets.
// A nil or empty request yields a nil window.
func (p *Pagination) normalize(limits Limits) (*window, error) {
	if p == nil {
		return nil, nil
	}
	offsetForm := p.Skip != nil || p.Take != nil
	pageForm := p.Page != nil || p.Limit != nil
	switch {
	case offsetForm && pageForm:
		return nil, invalidInputf("pagination cannot mix skip/take with page/limit")
	case offsetForm:
		win := &window{}
		if p.Skip != nil {
			if *p.Skip < 0 {
				return nil, invalidInputf("pagination skip cannot be negative")
			}
			win.offset = uint64(*p.Skip)
		}
		if p.Take != nil {
			if *p.Take < 1 {
				return nil, invalidInputf("pagination take must be positive")
			}
			win.limit = clampLimit(*p.Take, limits)
			win.hasLimit = true
		}
		return win, nil
	case pageForm:
		page := 1
		if p.Page != nil {
			page = *p.Page
		}
		if page < 1 {
			return nil, invalidInputf("pagination page must be at least 1")
		}
		limit := limits.effectiveDefault()
		if p.Limit != nil {
			limit = *p.Limit
		}
		if limit < 1 {
			return nil, invalidInputf("pagination limit must be positive")
		}
		clamped := clampLimit(limit, limits)
		return &window{
			offset:   uint64(page-1) * clamped,
			limit:    clamped,
			hasLimit: true,
		}, nil
	default:
		return nil, nil
	}
}

func clampLimit(requested int, limits Limits) uint64 {
	if max := limits.effectiveMax(); requested > max {
		return uint64(max)
	}
	return uint64(requested)
}

// apply appends the window to a select. MySQL has no bare OFFSET, so an
// offset without a limit uses the documented all-remaining-rows idiom.
func (w *window) apply(b sq.SelectBuilder) sq.SelectBuilder {
	if w == nil {
		return b
	}
	switch {
	case w.hasLimit:
		b = b.Limit(w.limit)
	case w.offset > 0:
		b = b.Limit(math.MaxUint64)
	}
	if w.offset > 0 {
		b = b.Offset(w.offset)
	}
	return b
}

// PageInfo summarizes one page of a counted result.
type PageInfo struct {
	// Page is the 1-based page number, PageCount the number of pages the
	// total spans at this page size.
	Page      int `json:"page"`
	PageCount int `json:"pageCount"`
	// Total is the unpaginated row count, Count the rows on this page.
	// Count clamps to zero when the offset overshoots the total.
	Total int `json:"total"`
	Count int `json:"count"`
}

// PageInfo derives page arithmetic for this plan's window against a total
// row count.
func (p *FindPlan) PageInfo(total int) PageInfo {
	if total < 0 {
		total = 0
	}
	info := PageInfo{Page: 1, Total: total, Count: total}
	if total > 0 {
		info.PageCount = 1
	}
	win := p.window
	if win == nil {
		return info
	}

	remaining := total - int(win.offset)
	if remaining < 0 {
		remaining = 0
	}
	if !win.hasLimit {
		info.Count = remaining
		return info
	}

	take := int(win.limit)
	info.Page = int(win.offset)/take + 1
	info.PageCount = (total + take - 1) / take
	if remaining < take {
		info.Count = remaining
	} else {
		info.Count = take
	}
	return info
}
