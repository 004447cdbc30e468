package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/support-chat-service/internal/errs"
	"github.com/psds-microservice/support-chat-service/internal/model"
	"github.com/psds-microservice/support-chat-service/internal/realtime"
	"gorm.io/gorm"
)

// TicketWithOrg — строка списка тикетов с денормализованным именем организации.
type TicketWithOrg struct {
	model.Ticket     `gorm:"embedded"`
	OrganizationName string `json:"organization_name"`
}

type TicketStore struct {
	db       *gorm.DB
	notifier realtime.Notifier
}

func NewTicketStore(db *gorm.DB, notifier realtime.Notifier) *TicketStore {
	return &TicketStore{db: db, notifier: notifier}
}

// List возвращает все тикеты, самые свежие по updated_at первыми.
// Ошибка транспорта отдаётся вызывающему как есть, без ретраев.
func (s *TicketStore) List(ctx context.Context) ([]TicketWithOrg, error) {
	var items []TicketWithOrg
	err := s.db.WithContext(ctx).
		Table("support_tickets").
		Select("support_tickets.*, organizations.display_name AS organization_name").
		Joins("LEFT JOIN organizations ON organizations.id = support_tickets.organization_id").
		Order("support_tickets.updated_at DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *TicketStore) GetByID(ctx context.Context, id string) (*model.Ticket, error) {
	var t model.Ticket
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

// LatestForOrganization — последний по updated_at тикет организации в любом
// статусе. Он и есть кандидат для create-or-resume.
func (s *TicketStore) LatestForOrganization(ctx context.Context, orgID string) (*model.Ticket, error) {
	var t model.Ticket
	err := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("updated_at DESC").
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *TicketStore) Create(ctx context.Context, orgID string) (*model.Ticket, error) {
	t := &model.Ticket{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Status:         model.TicketStatusOpen,
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	s.notifier.Publish(realtime.Event{Op: realtime.OpInsert, Table: realtime.TableTickets, Ticket: t})
	return t, nil
}

// SetStatus меняет статус и updated_at одной записью.
func (s *TicketStore) SetStatus(ctx context.Context, id string, status model.TicketStatus) (*model.Ticket, error) {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	changes := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}
	if err := s.db.WithContext(ctx).Model(t).Updates(changes).Error; err != nil {
		return nil, err
	}
	t.Status = status
	t.UpdatedAt = now
	s.notifier.Publish(realtime.Event{Op: realtime.OpUpdate, Table: realtime.TableTickets, Ticket: t})
	return t, nil
}

// Touch двигает updated_at. Отдельная запись после появления сообщения:
// порядок списка тикетов догоняет последнюю активность (best-effort, см.
// SendMessage в chat.Service).
func (s *TicketStore) Touch(ctx context.Context, id string) error {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now()
	if err := s.db.WithContext(ctx).Model(t).Update("updated_at", now).Error; err != nil {
		return err
	}
	t.UpdatedAt = now
	s.notifier.Publish(realtime.Event{Op: realtime.OpUpdate, Table: realtime.TableTickets, Ticket: t})
	return nil
}
