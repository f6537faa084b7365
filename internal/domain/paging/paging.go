// Package paging normalises list requests and describes result pages.
package paging

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Request is a 1-based page request.
type Request struct {
	Page  int
	Limit int
}

// Normalize clamps the page to >= 1 and the limit to [1, MaxLimit],
// substituting defaults for unset values.
func (r Request) Normalize() Request {
	if r.Page < 1 {
		r.Page = 1
	}
	switch {
	case r.Limit < 1:
		r.Limit = DefaultLimit
	case r.Limit > MaxLimit:
		r.Limit = MaxLimit
	}
	return r
}

// Offset returns the number of rows to skip. The request must be normalised.
func (r Request) Offset() int {
	return (r.Page - 1) * r.Limit
}

// Info describes a returned page.
type Info struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewInfo builds page metadata for a normalised request and a total count.
func NewInfo(r Request, total int) Info {
	pages := 0
	if r.Limit > 0 {
		pages = (total + r.Limit - 1) / r.Limit
	}
	return Info{Page: r.Page, Limit: r.Limit, Total: total, TotalPages: pages}
}
