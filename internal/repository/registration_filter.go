package repository

import (
	"strings"
	"time"

	"github.com/iliyamo/camp-registration/internal/model"
)

// FilterKind tags the variant held by a Filter.
type FilterKind int

const (
	FilterStatus FilterKind = iota + 1
	FilterNameContains
	FilterCreatedAfter
	FilterCreatedBefore
)

// Filter is one dashboard listing predicate.  Only the field matching Kind
// is meaningful.
type Filter struct {
	Kind   FilterKind
	Status model.RegistrationStatus
	Text   string
	Time   time.Time
}

// StatusIs restricts the listing to one status.
func StatusIs(s model.RegistrationStatus) Filter { return Filter{Kind: FilterStatus, Status: s} }

// NameContains matches a case-insensitive substring of the school name.
func NameContains(s string) Filter { return Filter{Kind: FilterNameContains, Text: s} }

// CreatedAfter keeps registrations created at or after t.
func CreatedAfter(t time.Time) Filter { return Filter{Kind: FilterCreatedAfter, Time: t} }

// CreatedBefore keeps registrations created strictly before t.
func CreatedBefore(t time.Time) Filter { return Filter{Kind: FilterCreatedBefore, Time: t} }

// ListQuery describes one page of the dashboard listing.
type ListQuery struct {
	Filters  []Filter
	Page     int
	PageSize int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (q ListQuery) normalized() (page, size int) {
	page, size = q.Page, q.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

// buildWhere renders the filters into a WHERE body and its arguments.  An
// empty filter list yields "1=1".
func buildWhere(filters []Filter) (string, []any) {
	where := []string{"1=1"}
	var args []any
	for _, f := range filters {
		switch f.Kind {
		case FilterStatus:
			where = append(where, "status = ?")
			args = append(args, string(f.Status))
		case FilterNameContains:
			t := strings.ToLower(strings.TrimSpace(f.Text))
			if t == "" {
				continue
			}
			where = append(where, "normalized_name LIKE ?")
			args = append(args, "%"+t+"%")
		case FilterCreatedAfter:
			where = append(where, "created_at >= ?")
			args = append(args, dbTime(f.Time))
		case FilterCreatedBefore:
			where = append(where, "created_at < ?")
			args = append(args, dbTime(f.Time))
		}
	}
	return strings.Join(where, " AND "), args
}
