// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// StudentID is the directory identifier of a student.
type StudentID string

// IsValid checks that the ID is non-empty and has no surrounding whitespace.
func (s StudentID) IsValid() bool {
	return s != "" && strings.TrimSpace(string(s)) == string(s) && len(s) <= 64
}

// String returns the string representation.
func (s StudentID) String() string {
	return string(s)
}

// IsEmpty checks if the ID is empty.
func (s StudentID) IsEmpty() bool {
	return s == ""
}

// NewStudentID creates a new StudentID with validation.
func NewStudentID(id string) (StudentID, error) {
	sid := StudentID(strings.TrimSpace(id))
	if !sid.IsValid() {
		return "", ErrInvalidStudentID
	}
	return sid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Pagination
// ═══════════════════════════════════════════════════════════════════════════

// Pagination represents page-based list options.
type Pagination struct {
	Page     int
	PageSize int
}

// Offset returns the number of rows to skip.
func (p Pagination) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

// Limit returns the page size clamped to [1, 500].
func (p Pagination) Limit() int {
	switch {
	case p.PageSize <= 0:
		return 50
	case p.PageSize > 500:
		return 500
	default:
		return p.PageSize
	}
}

// NewPagination creates pagination with sane defaults.
func NewPagination(page, pageSize int) Pagination {
	if page < 1 {
		page = 1
	}
	p := Pagination{Page: page, PageSize: pageSize}
	p.PageSize = p.Limit()
	return p
}

// DefaultPagination returns the first page with the default size.
func DefaultPagination() Pagination {
	return NewPagination(1, 50)
}
