package coupon

import (
	"github.com/go-faster/errors"

	"github.com/xenking/commerce-core/internal/domain/catalog"
)

// Direction tells whether a criterion grants or denies eligibility.
type Direction string

const (
	Include Direction = "include"
	Exclude Direction = "exclude"
)

// Kind is the stored discriminant of a Scope.
type Kind string

const (
	KindAll      Kind = "all"
	KindCategory Kind = "category"
	KindTeacher  Kind = "teacher"
	KindCourse   Kind = "course"
	KindEbook    Kind = "ebook"
)

// Scope is the closed set of things a criterion can target: All, Category,
// Teacher, Course or Ebook.
type Scope interface {
	Kind() Kind
	Target() string
	sealed()
}

// All matches every product.
type All struct{}

// Category matches products in one category.
type Category struct{ ID string }

// Teacher matches products authored by one teacher.
type Teacher struct{ ID string }

// Course matches one course.
type Course struct{ ID string }

// Ebook matches one e-book.
type Ebook struct{ ID string }

func (All) Kind() Kind      { return KindAll }
func (All) Target() string { return "" }
func (All) sealed()        {}

func (Category) Kind() Kind       { return KindCategory }
func (s Category) Target() string { return s.ID }
func (Category) sealed()          {}

func (Teacher) Kind() Kind       { return KindTeacher }
func (s Teacher) Target() string { return s.ID }
func (Teacher) sealed()          {}

func (Course) Kind() Kind       { return KindCourse }
func (s Course) Target() string { return s.ID }
func (Course) sealed()          {}

func (Ebook) Kind() Kind       { return KindEbook }
func (s Ebook) Target() string { return s.ID }
func (Ebook) sealed()          {}

// ErrUnknownKind is returned by NewScope for an unknown discriminant.
var ErrUnknownKind = errors.New("unknown criterion kind")

// NewScope rebuilds a Scope from its stored discriminant and target.
func NewScope(kind Kind, target string) (Scope, error) {
	switch kind {
	case KindAll:
		return All{}, nil
	case KindCategory:
		return Category{ID: target}, nil
	case KindTeacher:
		return Teacher{ID: target}, nil
	case KindCourse:
		return Course{ID: target}, nil
	case KindEbook:
		return Ebook{ID: target}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "%q", kind)
	}
}

// Criterion is one inclusion or exclusion rule.
type Criterion struct {
	Scope     Scope
	Direction Direction
}

// IncludeAll is a convenience for the wildcard include.
func IncludeAll() Criterion { return Criterion{Scope: All{}, Direction: Include} }

func matches(s Scope, p catalog.Descriptor) bool {
	switch s := s.(type) {
	case All:
		return true
	case Category:
		return s.ID == p.CategoryID
	case Teacher:
		return s.ID == p.TeacherID
	case Course:
		return p.Type == catalog.Course && s.ID == p.ProductID
	case Ebook:
		return p.Type == catalog.Ebook && s.ID == p.ProductID
	default:
		return false
	}
}

// Eligible decides whether criteria admit product p. Any matching exclusion
// wins. Otherwise p is eligible when an include matches it; a coupon without
// includes is never eligible.
func Eligible(criteria []Criterion, p catalog.Descriptor) bool {
	included := false
	for _, c := range criteria {
		if !matches(c.Scope, p) {
			continue
		}
		switch c.Direction {
		case Exclude:
			return false
		case Include:
			included = true
		}
	}
	return included
}
