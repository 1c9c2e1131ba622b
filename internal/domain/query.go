package domain

// Filter narrows the user set. Zero-value fields contribute no clause;
// all present clauses combine with logical AND.
type Filter struct {
	// Search matches as a case-insensitive substring against name OR email.
	Search string
	// Role matches exactly; an unrecognized value yields zero rows.
	Role string
	// Active filters on the active flag when non-nil.
	Active *bool
}

// SortField enumerates the columns a listing may be ordered by.
type SortField string

const (
	SortByName      SortField = "name"
	SortByEmail     SortField = "email"
	SortByRole      SortField = "role"
	SortByCreatedAt SortField = "createdAt"
	SortByUpdatedAt SortField = "updatedAt"
)

// Sort describes the ordering of a listing.
type Sort struct {
	Field SortField
	Desc  bool
}

// DefaultSort orders by creation time, newest first.
func DefaultSort() Sort {
	return Sort{Field: SortByCreatedAt, Desc: true}
}

// ListQuery is the request-scoped shape of one listing call.
type ListQuery struct {
	Filter Filter
	Sort   Sort
	Page   int
	Limit  int
}

// Offset converts the page number into a record skip count.
func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}
