package controller

import (
	"context"
	"log"
	"sync"

	"github.com/psds-microservice/support-chat-service/internal/model"
	"github.com/psds-microservice/support-chat-service/internal/realtime"
	"github.com/psds-microservice/support-chat-service/internal/store"
)

// Подставляется, когда join с organizations ничего не нашёл.
const unknownOrgName = "Unknown client"

// TicketView — строка админского списка: тикет + имя организации + счётчик
// непрочитанных клиентских сообщений.
type TicketView struct {
	store.TicketWithOrg
	UnreadCount int64 `json:"unread_count"`
}

// TicketListController — единственный источник правды для списка тикетов.
// На любое событие по тикетам или сообщениям перечитывает список целиком:
// дороже по чтениям, зато безразлично к порядку и слипанию событий.
type TicketListController struct {
	tickets  *store.TicketStore
	messages *store.MessageStore
	broker   *realtime.Broker

	mu    sync.RWMutex
	items []TicketView

	subTickets  *realtime.Subscription
	subMessages *realtime.Subscription
	done        chan struct{}
	closeOnce   sync.Once
}

func NewTicketListController(tickets *store.TicketStore, messages *store.MessageStore, broker *realtime.Broker) *TicketListController {
	return &TicketListController{
		tickets:  tickets,
		messages: messages,
		broker:   broker,
		done:     make(chan struct{}),
	}
}

// Start загружает список и подписывается на изменения обеих таблиц.
func (c *TicketListController) Start(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	c.subTickets = c.broker.Subscribe(realtime.TableTickets, nil)
	c.subMessages = c.broker.Subscribe(realtime.TableMessages, nil)
	go c.run()
	return nil
}

func (c *TicketListController) run() {
	for {
		select {
		case _, ok := <-c.subTickets.Events():
			if !ok {
				return
			}
		case _, ok := <-c.subMessages.Events():
			if !ok {
				return
			}
		case <-c.done:
			return
		}
		// Ошибка перечитывания не фатальна: остаётся предыдущий снимок,
		// следующее событие попробует снова.
		if err := c.Refresh(context.Background()); err != nil {
			log.Printf("ticketlist: refresh: %v", err)
		}
	}
}

// Refresh перечитывает тикеты и агрегат непрочитанного. Падение агрегата —
// не причина валить весь список: счётчики деградируют в ноль, молча для
// пользователя (в лог пишем).
func (c *TicketListController) Refresh(ctx context.Context) error {
	tickets, err := c.tickets.List(ctx)
	if err != nil {
		return err
	}
	counts, err := c.messages.CountUnread(ctx)
	if err != nil {
		log.Printf("ticketlist: unread counts unavailable: %v", err)
		counts = nil
	}
	items := make([]TicketView, 0, len(tickets))
	for _, t := range tickets {
		if t.OrganizationName == "" {
			t.OrganizationName = unknownOrgName
		}
		items = append(items, TicketView{TicketWithOrg: t, UnreadCount: counts[t.ID]})
	}
	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
	return nil
}

// Snapshot — копия текущего списка.
func (c *TicketListController) Snapshot() []TicketView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TicketView, len(c.items))
	copy(out, c.items)
	return out
}

// OpenCount — количество открытых тикетов (шапка списка).
func (c *TicketListController) OpenCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, t := range c.items {
		if t.Status == model.TicketStatusOpen {
			n++
		}
	}
	return n
}

// MarkReadLocally обнуляет счётчик тикета в снимке, не дожидаясь события
// от стора (оптимистичное обновление при выборе тикета).
func (c *TicketListController) MarkReadLocally(ticketID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ID == ticketID {
			c.items[i].UnreadCount = 0
		}
	}
}

// Close снимает подписки и останавливает цикл. Идемпотентен.
func (c *TicketListController) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	if c.subTickets != nil {
		c.subTickets.Cancel()
	}
	if c.subMessages != nil {
		c.subMessages.Cancel()
	}
}
