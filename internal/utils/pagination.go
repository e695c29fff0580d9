// internal/utils/pagination.go
package utils

import (
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PaginationParams are the list options shared by every collection endpoint.
// Sort is only a request; SortBy checks it against the collection's columns.
type PaginationParams struct {
	Page   int    `json:"page"`
	Limit  int    `json:"limit"`
	Sort   string `json:"sort"`
	Order  string `json:"order"`
	Search string `json:"search"`
}

type PaginationResult struct {
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	Total      int64       `json:"total"`
	TotalPages int         `json:"total_pages"`
	Data       interface{} `json:"data"`
}

func GetPaginationParams(c *gin.Context) PaginationParams {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))

	return PaginationParams{
		Page:   page,
		Limit:  limit,
		Sort:   c.Query("sort"),
		Order:  strings.ToLower(c.DefaultQuery("order", "desc")),
		Search: strings.TrimSpace(c.Query("search")),
	}.normalized()
}

func (p PaginationParams) normalized() PaginationParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 || p.Limit > maxPageSize {
		p.Limit = defaultPageSize
	}
	if p.Order != "asc" {
		p.Order = "desc"
	}
	return p
}

// Paginate is a gorm scope selecting the requested page.
func Paginate(params PaginationParams) func(*gorm.DB) *gorm.DB {
	p := params.normalized()
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset((p.Page - 1) * p.Limit).Limit(p.Limit)
	}
}

// SortBy is a gorm scope ordering by params.Sort when it names one of
// columns, else by the first column. A non-empty table qualifies the column
// for joined queries.
func SortBy(params PaginationParams, table string, columns ...string) func(*gorm.DB) *gorm.DB {
	p := params.normalized()
	column := "created_at"
	if slices.Contains(columns, p.Sort) {
		column = p.Sort
	} else if len(columns) > 0 {
		column = columns[0]
	}
	if table != "" {
		column = table + "." + column
	}
	return func(db *gorm.DB) *gorm.DB {
		return db.Order(column + " " + p.Order)
	}
}

func CreatePaginationResult(data interface{}, total int64, params PaginationParams) PaginationResult {
	p := params.normalized()
	return PaginationResult{
		Page:       p.Page,
		Limit:      p.Limit,
		Total:      total,
		TotalPages: int((total + int64(p.Limit) - 1) / int64(p.Limit)),
		Data:       data,
	}
}

func SetPaginationHeaders(c *gin.Context, result PaginationResult) {
	c.Header("X-Total-Count", strconv.FormatInt(result.Total, 10))
	c.Header("X-Page", strconv.Itoa(result.Page))
	c.Header("X-Per-Page", strconv.Itoa(result.Limit))
	c.Header("X-Total-Pages", strconv.Itoa(result.TotalPages))
}
