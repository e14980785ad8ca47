// Package catalog describes the purchasable products the commerce core
// prices and enrolls buyers into. Catalog editing lives elsewhere; this
// package only resolves a product to its current priced snapshot.
package catalog

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
)

// ProductType discriminates purchasable products.
type ProductType string

const (
	// Course is a lesson-based product with an optional access window.
	Course ProductType = "course"
	// Ebook is a downloadable book with permanent access.
	Ebook ProductType = "ebook"
)

// Valid reports whether t is a known product type.
func (t ProductType) Valid() bool {
	return t == Course || t == Ebook
}

// ErrProductNotFound is returned when a product (or its current snapshot)
// does not exist.
var ErrProductNotFound = errors.New("product not found")

// Ref identifies a product by type and id.
type Ref struct {
	Type ProductType
	ID   string
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s", r.Type, r.ID)
}

// Descriptor is the part of a product that coupon criteria can match on.
type Descriptor struct {
	Type       ProductType
	ProductID  string
	CategoryID string
	TeacherID  string
}

// Snapshot is the current immutable priced version of a product.
type Snapshot struct {
	Descriptor
	SnapshotID string
	// Price is an exact decimal string.
	Price string
	// AvailableDays bounds course access after purchase. Nil means unbounded.
	AvailableDays *int
	// LessonCount is the number of lessons needed to finish a course.
	LessonCount int
	// Lessons are the lesson ids of a course in order. Only set when a
	// snapshot is written; Resolve leaves it empty.
	Lessons []string
}

// Ref returns the product reference of the snapshot.
func (s *Snapshot) Ref() Ref {
	return Ref{Type: s.Type, ID: s.ProductID}
}

// Catalog resolves products to their current priced snapshot.
type Catalog interface {
	Resolve(ctx context.Context, ref Ref) (*Snapshot, error)
}
