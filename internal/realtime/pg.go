package realtime

import (
	"encoding/json"
	"log"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// PGNotifier публикует события через pg_notify, чтобы изменения видели все
// инстансы сервиса и все админские сессии. Best-effort: ошибка NOTIFY
// логируется и не роняет вызывающую запись.
type PGNotifier struct {
	db      *gorm.DB
	channel string
}

func NewPGNotifier(db *gorm.DB, channel string) *PGNotifier {
	return &PGNotifier{db: db, channel: channel}
}

func (n *PGNotifier) Publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("realtime: marshal notify payload: %v", err)
		return
	}
	if err := n.db.Exec("SELECT pg_notify(?, ?)", n.channel, string(payload)).Error; err != nil {
		log.Printf("realtime: pg_notify: %v", err)
	}
}

// Listener слушает канал NOTIFY и перекладывает события в локальный брокер.
// Жизненный цикл: NewListener → Run (блокируется до Close) → Close.
type Listener struct {
	pql    *pq.Listener
	broker *Broker
	done   chan struct{}
}

func NewListener(databaseURL, channel string, broker *Broker) (*Listener, error) {
	pql := pq.NewListener(databaseURL, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("realtime: listener event %d: %v", ev, err)
		}
	})
	if err := pql.Listen(channel); err != nil {
		pql.Close()
		return nil, err
	}
	return &Listener{pql: pql, broker: broker, done: make(chan struct{})}, nil
}

// Run читает уведомления до закрытия. nil-уведомления (реконнект lib/pq)
// пропускаются: консьюмеры восстановятся пере-чтением при следующем событии.
func (l *Listener) Run() {
	for {
		select {
		case n, ok := <-l.pql.Notify:
			if !ok {
				return
			}
			if n == nil {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
				log.Printf("realtime: decode notify payload: %v", err)
				continue
			}
			l.broker.Publish(ev)
		case <-l.done:
			return
		}
	}
}

func (l *Listener) Close() error {
	close(l.done)
	return l.pql.Close()
}
