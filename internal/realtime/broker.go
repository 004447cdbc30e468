package realtime

import (
	"log"
	"sync"

	"github.com/psds-microservice/support-chat-service/internal/model"
	"github.com/psds-microservice/support-chat-service/internal/telemetry"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
)

// Таблицы-топики. Совпадают с именами таблиц в Postgres, чтобы payload
// NOTIFY можно было читать глазами.
const (
	TableTickets  = "support_tickets"
	TableMessages = "ticket_messages"
)

// Event — одно изменение строки. Заполнено либо Ticket, либо Message,
// в зависимости от Table.
type Event struct {
	Op      Op             `json:"op"`
	Table   string         `json:"table"`
	Ticket  *model.Ticket  `json:"ticket,omitempty"`
	Message *model.Message `json:"message,omitempty"`
}

// TicketID возвращает id тикета, которого касается событие.
func (e Event) TicketID() string {
	switch {
	case e.Message != nil:
		return e.Message.TicketID
	case e.Ticket != nil:
		return e.Ticket.ID
	}
	return ""
}

// Notifier — куда стор публикует изменения. В проде это pg_notify
// (см. PGNotifier), в тестах и однопроцессном режиме — сам Broker.
type Notifier interface {
	Publish(ev Event)
}

// Broker раздаёт события всем активным подпискам. Доставка at-least-once,
// порядок между разными строками не гарантируется. Медленный подписчик
// теряет самые старые события из своего буфера; все консьюмеры написаны
// так, что пере-чтение из стора восстанавливает состояние.
type Broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*Subscription
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]*Subscription)}
}

// Subscription — одна подписка. Обязательно вызывать Cancel при
// деактивации компонента; Cancel идемпотентен.
type Subscription struct {
	id     int
	broker *Broker
	table  string
	filter func(Event) bool
	ch     chan Event
	once   sync.Once
}

func (s *Subscription) Events() <-chan Event { return s.ch }

func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s.id)
		s.broker.mu.Unlock()
		close(s.ch)
	})
}

const subscriptionBuffer = 64

// Subscribe регистрирует подписку на таблицу. filter == nil — все строки.
func (b *Broker) Subscribe(table string, filter func(Event) bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		broker: b,
		table:  table,
		filter: filter,
		ch:     make(chan Event, subscriptionBuffer),
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish рассылает событие подпискам с совпадающей таблицей и фильтром.
// Не блокируется: при переполненном буфере вытесняет самое старое событие.
func (b *Broker) Publish(ev Event) {
	telemetry.EventsPublished.WithLabelValues(ev.Table).Inc()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.table != ev.Table {
			continue
		}
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
			log.Printf("realtime: slow subscriber on %s, dropped oldest event", sub.table)
		}
	}
}

// SubscriberCount — число активных подписок (для метрик и тестов).
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
