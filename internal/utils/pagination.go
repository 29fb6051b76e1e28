// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// Pagination bounds shared by the operator API and the services behind it.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
//
// Example:
//
//	n := utils.AtoiDefault("42", 0) // returns 42
//	n = utils.AtoiDefault("", 10)   // returns 10
//	n = utils.AtoiDefault("x", 5)   // returns 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Page is a 1-based page number with a bounded size.
type Page struct {
	Number int
	Size   int
}

// NewPage clamps number to >= 1 and size to [1, MaxPageSize], using
// DefaultPageSize for non-positive sizes.
func NewPage(number, size int) Page {
	if number < 1 {
		number = 1
	}
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return Page{Number: number, Size: size}
}

// ParsePage reads page and page_size query values.
func ParsePage(page, pageSize string) Page {
	return NewPage(AtoiDefault(page, 1), AtoiDefault(pageSize, DefaultPageSize))
}

// Offset is the number of rows to skip.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// TotalPages returns the page count for total rows, at least 1.
func (p Page) TotalPages(total int64) int {
	if total <= 0 {
		return 1
	}
	return int((total + int64(p.Size) - 1) / int64(p.Size))
}
