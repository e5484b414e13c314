package server

import (
	"net/http"
	"strconv"
	"strings"
)

type Pagination struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasPrev    bool `json:"has_prev"`
	HasNext    bool `json:"has_next"`
}

func parsePagination(r *http.Request, defaultPerPage, maxPerPage int) (int, int) {
	page := 1
	perPage := defaultPerPage
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("page")); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			page = value
		}
	}
	if raw := strings.TrimSpace(query.Get("per_page")); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			perPage = value
		}
	}
	if maxPerPage > 0 && perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}

// paginate returns the requested page of items. Pages past the end are
// clamped to the last page.
func paginate[T any](items []T, page, perPage int) ([]T, Pagination) {
	if perPage <= 0 {
		perPage = 1
	}
	total := len(items)
	totalPages := (total + perPage - 1) / perPage
	if totalPages == 0 {
		totalPages = 1
	}
	page = max(1, min(page, totalPages))
	p := Pagination{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
		HasPrev:    page > 1,
		HasNext:    page < totalPages,
	}
	start := min((page-1)*perPage, total)
	end := min(start+perPage, total)
	window := items[start:end]
	if window == nil {
		window = []T{}
	}
	return window, p
}
