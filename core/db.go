package core

import "context"

type (
	// Pinger is implemented by any store able to report its readiness.
	Pinger interface {
		PingContext(ctx context.Context) error
	}

	// Pagination describes one page of an offset-paginated query.
	Pagination struct {
		Page     int `json:"page"`
		PerPage  int `json:"per_page"`
		Total    int `json:"total"`
		LastPage int `json:"last_page"`
	}
)

func NewPagination(page, perPage, total int) Pagination {
	if page < 1 {
		page = 1
	}
	last := 1
	if perPage > 0 && total > 0 {
		last = (total + perPage - 1) / perPage
	}
	return Pagination{Page: page, PerPage: perPage, Total: total, LastPage: last}
}
