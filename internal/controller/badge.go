package controller

import (
	"sync"

	"github.com/psds-microservice/support-chat-service/internal/model"
	"github.com/psds-microservice/support-chat-service/internal/realtime"
)

// View — где сейчас находится админ. Бейдж считает только вне экрана чата:
// сам экран чата ведёт свой учёт прочитанного.
type View string

const (
	ViewChat  View = "chat"
	ViewOther View = "other"
)

// BadgeCounter — грубый счётчик непрочитанного для сайдбара. Поведение
// сознательно приблизительное: инкремент на каждое клиентское сообщение,
// сброс в ноль при входе на экран чата, per-ticket декремента нет. Счётчик
// может расходиться с точной суммой непрочитанного — сверка происходит
// только сбросом при навигации.
type BadgeCounter struct {
	mu    sync.Mutex
	count int64
	view  View
	sub   *realtime.Subscription
}

func NewBadgeCounter(broker *realtime.Broker) *BadgeCounter {
	b := &BadgeCounter{view: ViewOther}
	b.sub = broker.Subscribe(realtime.TableMessages, nil)
	go b.run()
	return b
}

func (b *BadgeCounter) run() {
	for ev := range b.sub.Events() {
		if ev.Op != realtime.OpInsert || ev.Message == nil {
			continue
		}
		if ev.Message.SenderRole != model.SenderRoleClient {
			continue
		}
		b.mu.Lock()
		if b.view != ViewChat {
			b.count++
		}
		b.mu.Unlock()
	}
}

// SetView переключает текущий экран; вход в чат обнуляет счётчик.
func (b *BadgeCounter) SetView(v View) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.view = v
	if v == ViewChat {
		b.count = 0
	}
}

func (b *BadgeCounter) Value() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Close снимает подписку. Идемпотентно.
func (b *BadgeCounter) Close() {
	b.sub.Cancel()
}
