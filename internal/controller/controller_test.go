package controller

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/psds-microservice/support-chat-service/internal/chat"
	"github.com/psds-microservice/support-chat-service/internal/model"
	"github.com/psds-microservice/support-chat-service/internal/realtime"
	"github.com/psds-microservice/support-chat-service/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	db       *gorm.DB
	broker   *realtime.Broker
	tickets  *store.TicketStore
	messages *store.MessageStore
	svc      *chat.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&model.Organization{}, &model.Ticket{}, &model.Message{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	broker := realtime.NewBroker()
	tickets := store.NewTicketStore(db, broker)
	messages := store.NewMessageStore(db, broker)
	return &testEnv{
		db:       db,
		broker:   broker,
		tickets:  tickets,
		messages: messages,
		svc:      chat.NewService(tickets, messages, nil),
	}
}

// waitUntil опрашивает условие: события разносятся горутинами подписок.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
