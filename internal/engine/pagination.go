package engine

// Pagination owns the current page, total item count and page size.
// After every operation 1 <= CurrentPage <= max(1, TotalPages) holds.
// Not safe for concurrent use on its own; the engine's lock guards it.
type Pagination struct {
	currentPage  int
	totalItems   int
	itemsPerPage int
}

// NewPagination creates a controller starting at page 1.
func NewPagination(itemsPerPage int) *Pagination {
	if itemsPerPage < 1 {
		itemsPerPage = 1
	}
	return &Pagination{currentPage: 1, itemsPerPage: itemsPerPage}
}

func (p *Pagination) CurrentPage() int  { return p.currentPage }
func (p *Pagination) TotalItems() int   { return p.totalItems }
func (p *Pagination) ItemsPerPage() int { return p.itemsPerPage }

// TotalPages is ceil(totalItems / itemsPerPage).
func (p *Pagination) TotalPages() int {
	return (p.totalItems + p.itemsPerPage - 1) / p.itemsPerPage
}

// SetTotalItems records a fresh count and clamps the current page back
// into range, which can happen when later pages disappear.
func (p *Pagination) SetTotalItems(n int) {
	if n < 0 {
		n = 0
	}
	p.totalItems = n
	p.clamp()
}

// GoToPage moves to page n, clamped to the valid range.
func (p *Pagination) GoToPage(n int) {
	p.currentPage = n
	p.clamp()
}

// Next advances one page; a no-op on the last page.
func (p *Pagination) Next() {
	p.GoToPage(p.currentPage + 1)
}

// Prev goes back one page; a no-op on page 1.
func (p *Pagination) Prev() {
	p.GoToPage(p.currentPage - 1)
}

func (p *Pagination) clamp() {
	max := p.TotalPages()
	if max < 1 {
		max = 1
	}
	if p.currentPage > max {
		p.currentPage = max
	}
	if p.currentPage < 1 {
		p.currentPage = 1
	}
}
