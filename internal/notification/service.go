package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/ghostzpy/truco-server/internal/notification/entity"
	"github.com/ghostzpy/truco-server/internal/notification/repo"
	"github.com/ghostzpy/truco-server/pkg/utilities"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation failed")
	ErrUnknownAccount = errors.New("unknown account")
)

// Repository is the persistence the service needs.
type Repository interface {
	Create(ctx context.Context, n *entity.Notification) error
	ListActive(ctx context.Context, accountID string, now time.Time) ([]*entity.Notification, error)
	Delete(ctx context.Context, id string) (int64, error)
}

// Service encapsulates business logic for notifications.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(r Repository) *Service {
	return &Service{repo: r, now: time.Now}
}

// CreateInput is the payload for a new notice.
type CreateInput struct {
	AccountID   string      `json:"user"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Type        entity.Type `json:"type"`
	ExpiredDate *time.Time  `json:"expiredDate"`
}

func (in CreateInput) Validate() error {
	types := make([]interface{}, len(entity.Types))
	for i, t := range entity.Types {
		types[i] = t
	}
	return validation.ValidateStruct(&in,
		validation.Field(&in.AccountID, validation.Required),
		validation.Field(&in.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Description, validation.Required),
		validation.Field(&in.Type, validation.Required, validation.In(types...)),
	)
}

// Create stores a new notice. An omitted type defaults to normal.
func (s *Service) Create(ctx context.Context, in CreateInput) (*entity.Notification, error) {
	if in.Type == "" {
		in.Type = entity.TypeNormal
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	now := s.now().UTC()
	if in.ExpiredDate != nil && !in.ExpiredDate.After(now) {
		return nil, fmt.Errorf("%w: expiredDate must be in the future", ErrValidation)
	}
	n := &entity.Notification{
		ID:          utilities.NewKSUID(),
		AccountID:   in.AccountID,
		Title:       in.Title,
		Description: in.Description,
		Type:        in.Type,
		DateCreated: now,
		ExpiredDate: in.ExpiredDate,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		if errors.Is(err, repo.ErrUnknownAccount) {
			return nil, ErrUnknownAccount
		}
		return nil, err
	}
	return n, nil
}

// List returns the notices of accountID that are still active.
func (s *Service) List(ctx context.Context, accountID string) ([]*entity.Notification, error) {
	return s.repo.ListActive(ctx, accountID, s.now())
}

// Delete removes a notice by id.
func (s *Service) Delete(ctx context.Context, id string) error {
	rows, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
