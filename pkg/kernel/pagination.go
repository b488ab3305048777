package kernel

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// PaginationOptions is a 1-based page request.
type PaginationOptions struct {
	Page     int
	PageSize int
}

// Normalize clamps the options to sane bounds and returns limit and offset.
func (o PaginationOptions) Normalize() (PaginationOptions, int, int) {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize < 1 {
		o.PageSize = DefaultPageSize
	}
	o.PageSize = min(o.PageSize, MaxPageSize)
	return o, o.PageSize, (o.Page - 1) * o.PageSize
}

// Page is the pagination block of a listing response.
type Page struct {
	Number int `json:"page"`
	Size   int `json:"page_size"`
	Total  int `json:"total"`
	Pages  int `json:"pages"`
}

// Paginated is one page of a listing.
type Paginated[T any] struct {
	Items []T  `json:"items"`
	Page  Page `json:"pagination"`
	Empty bool `json:"empty"`
}

// NewPaginated never returns nil Items, so listings encode as [] rather
// than null.
func NewPaginated[T any](items []T, page, size, total int) Paginated[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	return Paginated[T]{
		Items: items,
		Page:  Page{Number: page, Size: size, Total: total, Pages: pages},
		Empty: len(items) == 0,
	}
}
