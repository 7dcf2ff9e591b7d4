package storage

// Paging bounds shared by every listing endpoint. Out-of-range values
// are clamped, never rejected.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
	MaxPage          = 10000
)

// ClampPaging normalizes a 1-based page number and page size into their
// allowed ranges.
func ClampPaging(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if limit < 1 {
		limit = 1
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}
