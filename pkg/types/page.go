package types

// Page paging limits
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// PageRequest selects one page of a listing
type PageRequest struct {
	Number int
	Size   int
}

// Normalize applies defaults and validates bounds
func (r PageRequest) Normalize() (PageRequest, error) {
	if r.Number == 0 {
		r.Number = 1
	}
	if r.Size == 0 {
		r.Size = DefaultPageSize
	}
	if r.Number < 1 {
		return r, validationError("page must be >= 1")
	}
	if r.Size < 1 || r.Size > MaxPageSize {
		return r, validationError("page size must be between 1 and %d", MaxPageSize)
	}
	return r, nil
}

// Offset returns the number of rows to skip
func (r PageRequest) Offset() int {
	return (r.Number - 1) * r.Size
}

// Page is one page of results plus paging metadata
type Page[T any] struct {
	Items      []T
	PageNumber int
	PageSize   int
	TotalCount int
}

// NewPage assembles a page from a request and the total row count
func NewPage[T any](items []T, req PageRequest, total int) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:      items,
		PageNumber: req.Number,
		PageSize:   req.Size,
		TotalCount: total,
	}
}

// TotalPages returns the number of pages needed for TotalCount
func (p Page[T]) TotalPages() int {
	if p.PageSize <= 0 {
		return 0
	}
	return (p.TotalCount + p.PageSize - 1) / p.PageSize
}

// HasNext reports whether a later page exists
func (p Page[T]) HasNext() bool {
	return p.PageNumber < p.TotalPages()
}
