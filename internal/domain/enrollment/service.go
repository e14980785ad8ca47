package enrollment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/commerce-core/internal/domain/catalog"
)

// Notifier receives certificate events after they are stored.
type Notifier interface {
	CertificateIssued(ctx context.Context, c *Certificate)
}

// LessonResult reports course progress after a lesson is completed.
type LessonResult struct {
	Completed   int
	Total       int
	Certificate *Certificate
}

// Service tracks course progress and issues certificates.
type Service struct {
	repo      Repository
	notifier  Notifier
	verifyURL string
	now       func() time.Time
}

// NewService creates a Service. verifyURL is the base of certificate
// verification links.
func NewService(repo Repository, notifier Notifier, verifyURL string) *Service {
	return &Service{
		repo:      repo,
		notifier:  notifier,
		verifyURL: verifyURL,
		now:       time.Now,
	}
}

// CompleteLesson records that userID finished lessonID. When every lesson of
// the course is done a certificate is issued, at most once per enrollment.
func (s *Service) CompleteLesson(ctx context.Context, userID, enrollmentID, lessonID string) (*LessonResult, error) {
	e, err := s.repo.Get(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if e.UserID != userID {
		return nil, ErrEnrollmentNotFound
	}
	if e.Product.Type != catalog.Course {
		return nil, ErrNotCourse
	}
	now := s.now()
	if !e.Active(now) {
		return nil, ErrEnrollmentInactive
	}

	completed, err := s.repo.CompleteLesson(ctx, Progress{
		EnrollmentID: e.ID,
		LessonID:     lessonID,
		CompletedAt:  now,
	})
	if err != nil {
		if errors.Is(err, ErrLessonNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "complete lesson")
	}

	res := &LessonResult{Completed: completed, Total: e.LessonCount}
	if e.LessonCount == 0 || completed < e.LessonCount {
		return res, nil
	}

	cert, created, err := s.repo.IssueCertificate(ctx, &Certificate{
		ID:           uuid.New().String(),
		EnrollmentID: e.ID,
		UserID:       e.UserID,
		Product:      e.Product,
		IssuedAt:     now,
	})
	if err != nil {
		return nil, errors.Wrap(err, "issue certificate")
	}
	if created {
		zctx.From(ctx).Info("Certificate issued",
			zap.String("certificate_id", cert.ID),
			zap.String("enrollment_id", e.ID),
		)
		s.notifier.CertificateIssued(ctx, cert)
	}
	res.Certificate = cert
	return res, nil
}

// Certificate returns a certificate by id.
func (s *Service) Certificate(ctx context.Context, id string) (*Certificate, error) {
	return s.repo.GetCertificate(ctx, id)
}

// CertificateQR renders the verification QR code of a certificate.
func (s *Service) CertificateQR(ctx context.Context, id string, size int) ([]byte, error) {
	c, err := s.repo.GetCertificate(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.QR(s.verifyURL, size)
}
