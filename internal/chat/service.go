package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/psds-microservice/support-chat-service/internal/errs"
	"github.com/psds-microservice/support-chat-service/internal/kafka"
	"github.com/psds-microservice/support-chat-service/internal/model"
	"github.com/psds-microservice/support-chat-service/internal/store"
	"github.com/psds-microservice/support-chat-service/internal/telemetry"
)

// Системные сообщения пишутся от имени админа с read=true, чтобы не
// попадать в счётчики непрочитанного.
const (
	greetingText = "Support session started. How can we help?"
	closedText   = "Support session closed by the support team."
	reopenedText = "Support session reopened by the support team."
)

// Service — операции жизненного цикла тикета и отправки сообщений.
// Консистентность между записями best-effort: сообщение — первичная запись,
// сдвиг updated_at тикета — вторичная косметическая (см. SendMessage).
type Service struct {
	tickets  *store.TicketStore
	messages *store.MessageStore
	producer kafka.ChatEventProducer
}

func NewService(tickets *store.TicketStore, messages *store.MessageStore, producer kafka.ChatEventProducer) *Service {
	return &Service{tickets: tickets, messages: messages, producer: producer}
}

// StartTicket — create-or-resume для организации:
//   - нет тикета — создать открытый и положить приветствие;
//   - последний тикет открыт — просто вернуть его;
//   - последний тикет закрыт — переоткрыть и положить системное сообщение.
//
// При нескольких тикетах организации берётся последний по updated_at.
func (s *Service) StartTicket(ctx context.Context, orgID string) (*model.Ticket, bool, error) {
	if orgID == "" {
		return nil, false, errs.ErrOrganizationNotFound
	}
	t, err := s.tickets.LatestForOrganization(ctx, orgID)
	switch {
	case errors.Is(err, errs.ErrTicketNotFound):
		t, err = s.tickets.Create(ctx, orgID)
		if err != nil {
			return nil, false, fmt.Errorf("create ticket: %w", err)
		}
		if _, err := s.messages.Append(ctx, t.ID, model.SenderRoleAdmin, greetingText, true); err != nil {
			return nil, false, fmt.Errorf("append greeting: %w", err)
		}
		s.produce(ctx, "ticket.opened", t)
		telemetry.TicketsStarted.Inc()
		return t, true, nil
	case err != nil:
		return nil, false, err
	}

	if t.Status == model.TicketStatusOpen {
		return t, false, nil
	}
	t, err = s.ReopenTicket(ctx, t.ID)
	if err != nil {
		return nil, false, err
	}
	return t, false, nil
}

// SendMessage пишет сообщение админа и затем двигает updated_at тикета.
// Две независимые записи, append строго первым: событие о сообщении должно
// уйти раньше косметического обновления порядка. Падение между записями
// оставляет устаревший порядок списка, но не трогает данные сообщений.
func (s *Service) SendMessage(ctx context.Context, ticketID, content string) (*model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errs.ErrEmptyMessage
	}
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.Status != model.TicketStatusOpen {
		return nil, errs.ErrTicketClosed
	}
	m, err := s.messages.Append(ctx, ticketID, model.SenderRoleAdmin, content, true)
	if err != nil {
		return nil, err
	}
	if err := s.tickets.Touch(ctx, ticketID); err != nil {
		return nil, fmt.Errorf("touch ticket: %w", err)
	}
	s.produce(ctx, "message.created", t)
	telemetry.MessagesSent.Inc()
	return m, nil
}

// CloseTicket закрывает тикет и пишет финальное системное сообщение.
// На уже закрытом тикете — no-op без второго системного сообщения.
// Подтверждение закрытия — забота вызывающего (UI всегда спрашивает).
func (s *Service) CloseTicket(ctx context.Context, ticketID string) (*model.Ticket, error) {
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.Status == model.TicketStatusClosed {
		return t, nil
	}
	t, err = s.tickets.SetStatus(ctx, ticketID, model.TicketStatusClosed)
	if err != nil {
		return nil, err
	}
	if _, err := s.messages.Append(ctx, ticketID, model.SenderRoleAdmin, closedText, true); err != nil {
		return nil, fmt.Errorf("append close message: %w", err)
	}
	s.produce(ctx, "ticket.closed", t)
	return t, nil
}

// ReopenTicket возвращает тикет в open. На уже открытом — no-op.
func (s *Service) ReopenTicket(ctx context.Context, ticketID string) (*model.Ticket, error) {
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.Status == model.TicketStatusOpen {
		return t, nil
	}
	t, err = s.tickets.SetStatus(ctx, ticketID, model.TicketStatusOpen)
	if err != nil {
		return nil, err
	}
	if _, err := s.messages.Append(ctx, ticketID, model.SenderRoleAdmin, reopenedText, true); err != nil {
		return nil, fmt.Errorf("append reopen message: %w", err)
	}
	s.produce(ctx, "ticket.reopened", t)
	return t, nil
}

func (s *Service) produce(ctx context.Context, event string, t *model.Ticket) {
	if s.producer == nil {
		return
	}
	s.producer.ProduceChatEvent(ctx, event, map[string]interface{}{
		"ticket_id":       t.ID,
		"organization_id": t.OrganizationID,
		"status":          string(t.Status),
	})
}
