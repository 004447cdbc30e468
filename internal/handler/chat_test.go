package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/psds-microservice/support-chat-service/internal/chat"
	"github.com/psds-microservice/support-chat-service/internal/controller"
	"github.com/psds-microservice/support-chat-service/internal/model"
	"github.com/psds-microservice/support-chat-service/internal/orgdir"
	"github.com/psds-microservice/support-chat-service/internal/realtime"
	"github.com/psds-microservice/support-chat-service/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

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
	svc := chat.NewService(tickets, messages, nil)
	list := controller.NewTicketListController(tickets, messages, broker)
	if err := list.Start(context.Background()); err != nil {
		t.Fatalf("start list: %v", err)
	}
	t.Cleanup(list.Close)
	conv := controller.NewConversationController(svc, tickets, messages, broker, list)
	t.Cleanup(conv.Deselect)
	badge := controller.NewBadgeCounter(broker)
	t.Cleanup(badge.Close)
	orgs := orgdir.NewClient("", db)

	h := NewChatHandler(svc, messages, list, conv, badge, orgs, broker)

	r := gin.New()
	v1 := r.Group("/api/v1")
	v1.GET("/tickets", h.ListTickets)
	v1.POST("/tickets", h.StartTicket)
	v1.POST("/tickets/:id/select", h.SelectTicket)
	v1.GET("/tickets/:id/messages", h.ListMessages)
	v1.POST("/tickets/:id/messages", h.SendMessage)
	v1.POST("/tickets/:id/close", h.CloseTicket)
	v1.POST("/tickets/:id/reopen", h.ReopenTicket)
	v1.GET("/organizations", h.ListOrganizations)
	v1.GET("/badge", h.Badge)
	v1.POST("/view", h.SetView)
	return r, db
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func startTicket(t *testing.T, r *gin.Engine, orgID string) string {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/api/v1/tickets", gin.H{"organization_id": orgID})
	if w.Code != http.StatusCreated && w.Code != http.StatusOK {
		t.Fatalf("start ticket: status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Ticket model.Ticket `json:"ticket"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.Ticket.ID
}

func TestStartTicketEndpoint(t *testing.T) {
	r, db := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/tickets", gin.H{"organization_id": "acme-id"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 for a new ticket, got %d: %s", w.Code, w.Body.String())
	}

	// повторный старт не создаёт тикета и отвечает 200
	w = doJSON(t, r, http.MethodPost, "/api/v1/tickets", gin.H{"organization_id": "acme-id"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for resume, got %d", w.Code)
	}
	var count int64
	if err := db.Model(&model.Ticket{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 ticket, got %d", count)
	}

	// без organization_id — 400 и никаких походов в стор
	w = doJSON(t, r, http.MethodPost, "/api/v1/tickets", gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSendMessageEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	id := startTicket(t, r, "acme-id")

	w := doJSON(t, r, http.MethodPost, "/api/v1/tickets/"+id+"/messages", gin.H{"content": "Hello"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var m model.Message
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.SenderRole != model.SenderRoleAdmin || !m.Read {
		t.Fatalf("unexpected message: %+v", m)
	}

	// пустой текст отклоняется до стора
	w = doJSON(t, r, http.MethodPost, "/api/v1/tickets/"+id+"/messages", gin.H{"content": "   "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty content, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/v1/tickets/missing/messages", gin.H{"content": "hi"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown ticket, got %d", w.Code)
	}
}

func TestCloseRequiresConfirmation(t *testing.T) {
	r, _ := newTestRouter(t)
	id := startTicket(t, r, "acme-id")

	w := doJSON(t, r, http.MethodPost, "/api/v1/tickets/"+id+"/close", gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without confirm, got %d", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, "/api/v1/tickets/"+id+"/close", gin.H{"confirm": true})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	// повторное закрытие безопасно
	w = doJSON(t, r, http.MethodPost, "/api/v1/tickets/"+id+"/close", gin.H{"confirm": true})
	if w.Code != http.StatusOK {
		t.Fatalf("expected idempotent close, got %d", w.Code)
	}

	// отправка в закрытый тикет — 409
	w = doJSON(t, r, http.MethodPost, "/api/v1/tickets/"+id+"/messages", gin.H{"content": "late"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on closed ticket, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/v1/tickets/"+id+"/reopen", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on reopen, got %d", w.Code)
	}
}

func TestListMessagesEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	id := startTicket(t, r, "acme-id")

	w := doJSON(t, r, http.MethodGet, "/api/v1/tickets/"+id+"/messages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Messages []model.Message `json:"messages"`
		Total    int             `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || len(resp.Messages) != 1 {
		t.Fatalf("expected the greeting message, got %d", resp.Total)
	}
}

func TestBadgeAndViewEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/v1/badge", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/v1/view", gin.H{"view": "chat"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, r, http.MethodPost, "/api/v1/view", gin.H{"view": "dashboard"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown view, got %d", w.Code)
	}
}

func TestListOrganizationsFallsBackToLocalTable(t *testing.T) {
	r, db := newTestRouter(t)
	if err := db.Create(&model.Organization{ID: "org-1", DisplayName: "Acme"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := doJSON(t, r, http.MethodGet, "/api/v1/organizations", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Organizations []model.Organization `json:"organizations"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Organizations) != 1 || resp.Organizations[0].DisplayName != "Acme" {
		t.Fatalf("unexpected organizations: %+v", resp.Organizations)
	}
}
