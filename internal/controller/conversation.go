package controller

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/psds-microservice/support-chat-service/internal/chat"
	"github.com/psds-microservice/support-chat-service/internal/errs"
	"github.com/psds-microservice/support-chat-service/internal/model"
	"github.com/psds-microservice/support-chat-service/internal/realtime"
	"github.com/psds-microservice/support-chat-service/internal/store"
)

type ConversationState string

const (
	StateNone          ConversationState = "none"
	StateOpenIdle      ConversationState = "open_idle"
	StateOpenComposing ConversationState = "open_composing"
	StateClosed        ConversationState = "closed"
)

// ConversationController ведёт открытый разговор по одному выбранному
// тикету: история, живая дозапись входящих, read-ack, переходы статуса.
// Живые сообщения дописываются в порядке прихода и никогда не
// пересортировываются: порядок прихода и есть порядок показа.
type ConversationController struct {
	svc      *chat.Service
	tickets  *store.TicketStore
	messages *store.MessageStore
	broker   *realtime.Broker
	list     *TicketListController

	mu     sync.Mutex
	ticket *model.Ticket
	msgs   []model.Message
	input  string
	sub    *realtime.Subscription
}

func NewConversationController(svc *chat.Service, tickets *store.TicketStore, messages *store.MessageStore, broker *realtime.Broker, list *TicketListController) *ConversationController {
	return &ConversationController{
		svc:      svc,
		tickets:  tickets,
		messages: messages,
		broker:   broker,
		list:     list,
	}
}

// Select загружает историю тикета и подписывается на его сообщения.
// Непрочитанные клиентские сообщения помечаются прочитанными сразу, и
// локальное состояние обнуляет счётчик не дожидаясь события от стора.
// Предыдущая подписка снимается; повторные Select не текут.
func (c *ConversationController) Select(ctx context.Context, ticketID string) error {
	t, err := c.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return err
	}
	history, err := c.messages.ListByTicket(ctx, ticketID)
	if err != nil {
		return err
	}

	hasUnread := false
	for _, m := range history {
		if m.SenderRole == model.SenderRoleClient && !m.Read {
			hasUnread = true
			break
		}
	}
	if hasUnread {
		if _, err := c.messages.MarkClientMessagesRead(ctx, ticketID); err != nil {
			return err
		}
		for i := range history {
			if history[i].SenderRole == model.SenderRoleClient {
				history[i].Read = true
			}
		}
		if c.list != nil {
			c.list.MarkReadLocally(ticketID)
		}
	}

	c.mu.Lock()
	if c.sub != nil {
		c.sub.Cancel()
	}
	c.ticket = t
	c.msgs = history
	c.input = ""
	sub := c.broker.Subscribe(realtime.TableMessages, func(ev realtime.Event) bool {
		return ev.TicketID() == ticketID
	})
	c.sub = sub
	c.mu.Unlock()

	go c.run(sub)
	return nil
}

func (c *ConversationController) run(sub *realtime.Subscription) {
	for ev := range sub.Events() {
		c.onEvent(ev)
	}
}

func (c *ConversationController) onEvent(ev realtime.Event) {
	if ev.Op != realtime.OpInsert || ev.Message == nil {
		return
	}
	m := *ev.Message

	c.mu.Lock()
	if c.ticket == nil || c.ticket.ID != m.TicketID {
		c.mu.Unlock()
		return
	}
	needAck := m.SenderRole == model.SenderRoleClient && !m.Read
	if needAck {
		m.Read = true
	}
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()

	// Разговор открыт, значит админ сообщение видит: точечный read-ack
	// сразу, не дожидаясь повторного выбора тикета.
	if needAck {
		if err := c.messages.MarkRead(context.Background(), m.ID); err != nil {
			log.Printf("conversation: mark read %s: %v", m.ID, err)
		}
	}
}

// SetInput обновляет черновик. Непустой текст переводит открытый разговор
// в open_composing, пустой — обратно в open_idle.
func (c *ConversationController) SetInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = text
}

// Send отправляет текущий черновик. Пустой или пробельный черновик — no-op
// без похода в стор. При ошибке транспорта черновик сохраняется, действие
// можно безопасно повторить — дубликата неудавшейся отправки не будет.
func (c *ConversationController) Send(ctx context.Context) (*model.Message, error) {
	c.mu.Lock()
	if c.ticket == nil {
		c.mu.Unlock()
		return nil, errs.ErrTicketNotFound
	}
	ticketID := c.ticket.ID
	text := c.input
	c.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return nil, errs.ErrEmptyMessage
	}
	m, err := c.svc.SendMessage(ctx, ticketID, text)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.input = ""
	c.mu.Unlock()
	return m, nil
}

// Close закрывает выбранный тикет и сбрасывает выбор: админ возвращается к
// списку. Подтверждение — забота вызывающего слоя, закрытие никогда не
// должно случаться одним случайным кликом.
func (c *ConversationController) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.ticket == nil {
		c.mu.Unlock()
		return errs.ErrTicketNotFound
	}
	ticketID := c.ticket.ID
	c.mu.Unlock()

	if _, err := c.svc.CloseTicket(ctx, ticketID); err != nil {
		return err
	}
	c.Deselect()
	return nil
}

// Reopen возвращает тикет в open, выбор сохраняется.
func (c *ConversationController) Reopen(ctx context.Context) error {
	c.mu.Lock()
	if c.ticket == nil {
		c.mu.Unlock()
		return errs.ErrTicketNotFound
	}
	ticketID := c.ticket.ID
	c.mu.Unlock()

	t, err := c.svc.ReopenTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.ticket != nil && c.ticket.ID == ticketID {
		c.ticket = t
	}
	c.mu.Unlock()
	return nil
}

// Deselect снимает выбор и подписку. Идемпотентен.
func (c *ConversationController) Deselect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		c.sub.Cancel()
		c.sub = nil
	}
	c.ticket = nil
	c.msgs = nil
	c.input = ""
}

// State: none — ничего не выбрано; closed — выбран закрытый тикет;
// open_composing — в черновике непустой текст; иначе open_idle.
func (c *ConversationController) State() ConversationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.ticket == nil:
		return StateNone
	case c.ticket.Status == model.TicketStatusClosed:
		return StateClosed
	case strings.TrimSpace(c.input) != "":
		return StateOpenComposing
	}
	return StateOpenIdle
}

// Ticket — выбранный тикет (копия) или nil.
func (c *ConversationController) Ticket() *model.Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticket == nil {
		return nil
	}
	t := *c.ticket
	return &t
}

// Messages — копия истории в порядке показа.
func (c *ConversationController) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}
