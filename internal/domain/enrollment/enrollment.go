// Package enrollment manages the durable access grants created by purchases,
// lesson progress on courses and completion certificates.
package enrollment

import (
	"context"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/skip2/go-qrcode"

	"github.com/xenking/commerce-core/internal/domain/catalog"
)

var (
	// ErrEnrollmentNotFound is returned when an enrollment does not exist or
	// belongs to another user.
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	// ErrEnrollmentInactive is returned for revoked or lapsed enrollments.
	ErrEnrollmentInactive = errors.New("enrollment is not active")
	// ErrNotCourse is returned when tracking progress on a non-course product.
	ErrNotCourse = errors.New("enrollment is not for a course")
	// ErrCertificateNotFound is returned when a certificate does not exist.
	ErrCertificateNotFound = errors.New("certificate not found")
	// ErrLessonNotFound is returned when a lesson is not part of the course
	// snapshot the enrollment was bought at.
	ErrLessonNotFound = errors.New("lesson not found")
)

// Enrollment grants a user access to a purchased product.
type Enrollment struct {
	ID          string
	UserID      string
	OrderID     string
	Product     catalog.Ref
	SnapshotID  string
	LessonCount int
	StartedAt   time.Time
	// EndedAt is nil for unbounded access.
	EndedAt   *time.Time
	RevokedAt *time.Time
}

// Active reports whether access is granted at now.
func (e *Enrollment) Active(now time.Time) bool {
	if e.RevokedAt != nil {
		return false
	}
	return e.EndedAt == nil || now.Before(*e.EndedAt)
}

// Progress marks one lesson completed.
type Progress struct {
	EnrollmentID string
	LessonID     string
	CompletedAt  time.Time
}

// Certificate attests that every lesson of a course was completed.
type Certificate struct {
	ID           string
	EnrollmentID string
	UserID       string
	Product      catalog.Ref
	IssuedAt     time.Time
}

// VerifyURL is the public address at which the certificate can be checked.
func (c *Certificate) VerifyURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse verify base url")
	}
	return u.JoinPath(c.ID).String(), nil
}

// QR renders the verification URL as a PNG QR code of size pixels.
func (c *Certificate) QR(baseURL string, size int) ([]byte, error) {
	link, err := c.VerifyURL(baseURL)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(link, qrcode.Medium, size)
	if err != nil {
		return nil, errors.Wrap(err, "encode qr")
	}
	return png, nil
}

// Repository persists enrollments, progress and certificates.
type Repository interface {
	Get(ctx context.Context, id string) (*Enrollment, error)
	// CompleteLesson records progress idempotently and returns the number of
	// distinct lessons completed on the enrollment. It returns
	// ErrLessonNotFound for lessons outside the enrollment's snapshot.
	CompleteLesson(ctx context.Context, p Progress) (int, error)
	// IssueCertificate stores c unless the enrollment already has one, and
	// returns the stored certificate and whether it was created now.
	IssueCertificate(ctx context.Context, c *Certificate) (*Certificate, bool, error)
	GetCertificate(ctx context.Context, id string) (*Certificate, error)
}
