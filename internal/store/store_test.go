package store

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/psds-microservice/support-chat-service/internal/errs"
	"github.com/psds-microservice/support-chat-service/internal/model"
	"github.com/psds-microservice/support-chat-service/internal/realtime"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
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
	// одна in-memory база на все соединения
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&model.Organization{}, &model.Ticket{}, &model.Message{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newStores(t *testing.T) (*TicketStore, *MessageStore, *realtime.Broker, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	broker := realtime.NewBroker()
	return NewTicketStore(db, broker), NewMessageStore(db, broker), broker, db
}

func TestListOrdersByUpdatedAtDesc(t *testing.T) {
	tickets, _, _, db := newStores(t)
	ctx := context.Background()

	if err := db.Create(&model.Organization{ID: "org-1", DisplayName: "Acme"}).Error; err != nil {
		t.Fatalf("seed org: %v", err)
	}
	first, err := tickets.Create(ctx, "org-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := tickets.Create(ctx, "org-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	items, err := tickets.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 tickets, got %d", len(items))
	}
	if items[0].ID != second.ID || items[1].ID != first.ID {
		t.Fatalf("expected most recently updated first, got %s, %s", items[0].ID, items[1].ID)
	}
	if items[0].OrganizationName != "Acme" {
		t.Fatalf("expected joined org name Acme, got %q", items[0].OrganizationName)
	}

	// старый тикет после Touch всплывает наверх
	time.Sleep(2 * time.Millisecond)
	if err := tickets.Touch(ctx, first.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}
	items, err = tickets.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if items[0].ID != first.ID {
		t.Fatalf("expected touched ticket first, got %s", items[0].ID)
	}
}

func TestMessagesAscendingByCreatedAt(t *testing.T) {
	tickets, messages, _, _ := newStores(t)
	ctx := context.Background()

	tk, err := tickets.Create(ctx, "org-1")
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	contents := []string{"first", "second", "third"}
	for _, c := range contents {
		if _, err := messages.Append(ctx, tk.ID, model.SenderRoleClient, c, false); err != nil {
			t.Fatalf("append %q: %v", c, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	got, err := messages.ListByTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, c := range contents {
		if got[i].Content != c {
			t.Fatalf("position %d: expected %q, got %q", i, c, got[i].Content)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
			t.Fatalf("created_at not non-decreasing at position %d", i)
		}
	}
}

func TestMarkClientMessagesReadIdempotent(t *testing.T) {
	tickets, messages, _, db := newStores(t)
	ctx := context.Background()

	tk, err := tickets.Create(ctx, "org-1")
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := messages.Append(ctx, tk.ID, model.SenderRoleClient, "hello", false); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := messages.Append(ctx, tk.ID, model.SenderRoleAdmin, "reply", true); err != nil {
		t.Fatalf("append admin: %v", err)
	}

	n, err := messages.MarkClientMessagesRead(ctx, tk.ID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows updated, got %d", n)
	}
	// повторный вызов ничего не меняет
	n, err = messages.MarkClientMessagesRead(ctx, tk.ID)
	if err != nil {
		t.Fatalf("mark read again: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 rows on repeat, got %d", n)
	}

	var unread int64
	if err := db.Model(&model.Message{}).Where("read = ?", false).Count(&unread).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if unread != 0 {
		t.Fatalf("expected no unread rows, got %d", unread)
	}
}

func TestCountUnreadIgnoresAdminMessages(t *testing.T) {
	tickets, messages, _, _ := newStores(t)
	ctx := context.Background()

	tk, err := tickets.Create(ctx, "org-1")
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := messages.Append(ctx, tk.ID, model.SenderRoleClient, "ping", false); err != nil {
			t.Fatalf("append client: %v", err)
		}
	}
	for i := 0; i < 7; i++ {
		if _, err := messages.Append(ctx, tk.ID, model.SenderRoleAdmin, "pong", true); err != nil {
			t.Fatalf("append admin: %v", err)
		}
	}

	counts, err := messages.CountUnread(ctx)
	if err != nil {
		t.Fatalf("count unread: %v", err)
	}
	if counts[tk.ID] != 4 {
		t.Fatalf("expected 4 unread, got %d", counts[tk.ID])
	}
}

func TestSetStatusBumpsUpdatedAt(t *testing.T) {
	tickets, _, _, _ := newStores(t)
	ctx := context.Background()

	tk, err := tickets.Create(ctx, "org-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before := tk.UpdatedAt
	time.Sleep(2 * time.Millisecond)

	updated, err := tickets.SetStatus(ctx, tk.ID, model.TicketStatusClosed)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if updated.Status != model.TicketStatusClosed {
		t.Fatalf("expected closed, got %s", updated.Status)
	}
	got, err := tickets.GetByID(ctx, tk.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.UpdatedAt.After(before) {
		t.Fatalf("expected updated_at to advance: before=%v after=%v", before, got.UpdatedAt)
	}
}

func TestLatestForOrganization(t *testing.T) {
	tickets, _, _, _ := newStores(t)
	ctx := context.Background()

	if _, err := tickets.LatestForOrganization(ctx, "org-1"); err != errs.ErrTicketNotFound {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}

	first, err := tickets.Create(ctx, "org-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := tickets.Create(ctx, "org-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := tickets.Touch(ctx, first.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}

	latest, err := tickets.LatestForOrganization(ctx, "org-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != first.ID {
		t.Fatalf("expected ticket with freshest updated_at, got %s", latest.ID)
	}
}

func TestStorePublishesEvents(t *testing.T) {
	tickets, messages, broker, _ := newStores(t)
	ctx := context.Background()

	subT := broker.Subscribe(realtime.TableTickets, nil)
	defer subT.Cancel()
	subM := broker.Subscribe(realtime.TableMessages, nil)
	defer subM.Cancel()

	tk, err := tickets.Create(ctx, "org-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case ev := <-subT.Events():
		if ev.Op != realtime.OpInsert || ev.Ticket == nil || ev.Ticket.ID != tk.ID {
			t.Fatalf("unexpected ticket event: %+v", ev)
		}
	default:
		t.Fatal("expected a ticket insert event")
	}

	m, err := messages.Append(ctx, tk.ID, model.SenderRoleClient, "hello", false)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	select {
	case ev := <-subM.Events():
		if ev.Op != realtime.OpInsert || ev.Message == nil || ev.Message.ID != m.ID {
			t.Fatalf("unexpected message event: %+v", ev)
		}
	default:
		t.Fatal("expected a message insert event")
	}
}
