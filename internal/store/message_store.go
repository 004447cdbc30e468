package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/psds-microservice/support-chat-service/internal/model"
	"github.com/psds-microservice/support-chat-service/internal/realtime"
	"gorm.io/gorm"
)

type MessageStore struct {
	db       *gorm.DB
	notifier realtime.Notifier
}

func NewMessageStore(db *gorm.DB, notifier realtime.Notifier) *MessageStore {
	return &MessageStore{db: db, notifier: notifier}
}

// ListByTicket — вся история тикета по возрастанию created_at. Пагинации
// нет: история загружается целиком при каждом открытии тикета.
func (s *MessageStore) ListByTicket(ctx context.Context, ticketID string) ([]model.Message, error) {
	var items []model.Message
	err := s.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Append создаёт сообщение. updated_at тикета здесь НЕ трогается — это
// отдельная вторая запись на стороне вызывающего, причём строго после
// Append, чтобы событие о новом сообщении ушло раньше косметического
// обновления порядка.
func (s *MessageStore) Append(ctx context.Context, ticketID string, role model.SenderRole, content string, read bool) (*model.Message, error) {
	m := &model.Message{
		ID:         uuid.NewString(),
		TicketID:   ticketID,
		SenderRole: role,
		Content:    content,
		Read:       read,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	s.notifier.Publish(realtime.Event{Op: realtime.OpInsert, Table: realtime.TableMessages, Message: m})
	return m, nil
}

// MarkClientMessagesRead помечает прочитанными все клиентские сообщения
// тикета. Идемпотентно: повторный вызов не меняет ни одной строки и не
// публикует событие.
func (s *MessageStore) MarkClientMessagesRead(ctx context.Context, ticketID string) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("ticket_id = ? AND sender_role = ? AND read = ?", ticketID, model.SenderRoleClient, false).
		Update("read", true)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.notifier.Publish(realtime.Event{
			Op:      realtime.OpUpdate,
			Table:   realtime.TableMessages,
			Message: &model.Message{TicketID: ticketID, SenderRole: model.SenderRoleClient, Read: true},
		})
	}
	return res.RowsAffected, nil
}

// MarkRead — точечный read-ack одного сообщения (live-доставка в открытом
// разговоре). read ходит только false→true.
func (s *MessageStore) MarkRead(ctx context.Context, messageID string) error {
	var m model.Message
	if err := s.db.WithContext(ctx).First(&m, "id = ?", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if m.Read {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&m).Update("read", true).Error; err != nil {
		return err
	}
	m.Read = true
	s.notifier.Publish(realtime.Event{Op: realtime.OpUpdate, Table: realtime.TableMessages, Message: &m})
	return nil
}

// CountUnread агрегирует непрочитанные клиентские сообщения по тикетам.
// Вызывающий обязан уметь жить без результата (graceful degrade в списке).
func (s *MessageStore) CountUnread(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		TicketID string
		N        int64
	}
	err := s.db.WithContext(ctx).
		Model(&model.Message{}).
		Select("ticket_id, COUNT(*) AS n").
		Where("read = ? AND sender_role = ?", false, model.SenderRoleClient).
		Group("ticket_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.TicketID] = r.N
	}
	return counts, nil
}
