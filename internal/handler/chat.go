package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/support-chat-service/internal/chat"
	"github.com/psds-microservice/support-chat-service/internal/controller"
	"github.com/psds-microservice/support-chat-service/internal/errs"
	"github.com/psds-microservice/support-chat-service/internal/orgdir"
	"github.com/psds-microservice/support-chat-service/internal/realtime"
	"github.com/psds-microservice/support-chat-service/internal/store"
)

// ChatHandler — HTTP-поверхность для админской оболочки. Состояние живёт в
// контроллерах; хендлеры только транслируют действия и коды ошибок.
type ChatHandler struct {
	svc      *chat.Service
	messages *store.MessageStore
	list     *controller.TicketListController
	conv     *controller.ConversationController
	badge    *controller.BadgeCounter
	orgs     *orgdir.Client
	broker   *realtime.Broker
}

func NewChatHandler(svc *chat.Service, messages *store.MessageStore, list *controller.TicketListController, conv *controller.ConversationController, badge *controller.BadgeCounter, orgs *orgdir.Client, broker *realtime.Broker) *ChatHandler {
	return &ChatHandler{
		svc:      svc,
		messages: messages,
		list:     list,
		conv:     conv,
		badge:    badge,
		orgs:     orgs,
		broker:   broker,
	}
}

// ListTickets отдаёт снимок списка с непрочитанными счётчиками.
func (h *ChatHandler) ListTickets(c *gin.Context) {
	items := h.list.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"tickets":    items,
		"total":      len(items),
		"open_count": h.list.OpenCount(),
	})
}

type startTicketRequest struct {
	OrganizationID string `json:"organization_id" binding:"required"`
}

// StartTicket — create-or-resume. 201 когда тикет реально создан, иначе 200.
func (h *ChatHandler) StartTicket(c *gin.Context) {
	var req startTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "organization_id is required"})
		return
	}
	t, created, err := h.svc.StartTicket(c.Request.Context(), req.OrganizationID)
	if err != nil {
		if errors.Is(err, errs.ErrOrganizationNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "organization_id is required"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start ticket"})
		return
	}
	// startTicket сразу делает тикет активным разговором.
	if err := h.conv.Select(c.Request.Context(), t.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to select ticket"})
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"ticket": t, "created": created})
}

// SelectTicket открывает разговор: история + read-ack непрочитанного.
func (h *ChatHandler) SelectTicket(c *gin.Context) {
	if err := h.conv.Select(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, errs.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ticket":   h.conv.Ticket(),
		"messages": h.conv.Messages(),
		"state":    h.conv.State(),
	})
}

// Conversation — текущее состояние открытого разговора.
func (h *ChatHandler) Conversation(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ticket":   h.conv.Ticket(),
		"messages": h.conv.Messages(),
		"state":    h.conv.State(),
	})
}

// ListMessages — история любого тикета напрямую из стора, без выбора.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	items, err := h.messages.ListByTicket(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": items, "total": len(items)})
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessage пишет сообщение админа в тикет. Пустой текст — 400 без
// похода в стор; закрытый тикет — 409.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	ticketID := c.Param("id")
	if t := h.conv.Ticket(); t != nil && t.ID == ticketID {
		h.conv.SetInput(req.Content)
		m, err := h.conv.Send(c.Request.Context())
		if err != nil {
			writeSendError(c, err)
			return
		}
		c.JSON(http.StatusCreated, m)
		return
	}
	m, err := h.svc.SendMessage(c.Request.Context(), ticketID, req.Content)
	if err != nil {
		writeSendError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func writeSendError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "message content is empty"})
	case errors.Is(err, errs.ErrTicketClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "ticket is closed"})
	case errors.Is(err, errs.ErrTicketNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
	}
}

type closeTicketRequest struct {
	Confirm bool `json:"confirm"`
}

// CloseTicket закрывает тикет. Требует явного confirm=true: закрытие не
// должно происходить одним случайным кликом. Повторное закрытие — no-op.
func (h *ChatHandler) CloseTicket(c *gin.Context) {
	var req closeTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Confirm {
		c.JSON(http.StatusBadRequest, gin.H{"error": "close requires confirm=true"})
		return
	}
	ticketID := c.Param("id")
	if t := h.conv.Ticket(); t != nil && t.ID == ticketID {
		if err := h.conv.Close(c.Request.Context()); err != nil {
			writeTransitionError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "closed"})
		return
	}
	if _, err := h.svc.CloseTicket(c.Request.Context(), ticketID); err != nil {
		writeTransitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

// ReopenTicket возвращает тикет в open. Повторное переоткрытие — no-op.
func (h *ChatHandler) ReopenTicket(c *gin.Context) {
	ticketID := c.Param("id")
	if t := h.conv.Ticket(); t != nil && t.ID == ticketID {
		if err := h.conv.Reopen(c.Request.Context()); err != nil {
			writeTransitionError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "open"})
		return
	}
	t, err := h.svc.ReopenTicket(c.Request.Context(), ticketID)
	if err != nil {
		writeTransitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": t.Status})
}

func writeTransitionError(c *gin.Context, err error) {
	if errors.Is(err, errs.ErrTicketNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// ListOrganizations — справочник для селектора нового тикета.
func (h *ChatHandler) ListOrganizations(c *gin.Context) {
	orgs, err := h.orgs.ListOrganizations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list organizations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"organizations": orgs, "total": len(orgs)})
}

// Badge — значение сайдбарного счётчика.
func (h *ChatHandler) Badge(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": h.badge.Value()})
}

type setViewRequest struct {
	View string `json:"view" binding:"required"`
}

// SetView сообщает, какой экран открыт у админа. Вход на экран чата
// обнуляет бейдж.
func (h *ChatHandler) SetView(c *gin.Context) {
	var req setViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "view is required"})
		return
	}
	switch controller.View(req.View) {
	case controller.ViewChat, controller.ViewOther:
		h.badge.SetView(controller.View(req.View))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "view must be chat or other"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"view": req.View, "count": h.badge.Value()})
}

// Events — SSE-поток изменений для живого обновления оболочки. Подписки
// снимаются при разрыве соединения.
func (h *ChatHandler) Events(c *gin.Context) {
	subTickets := h.broker.Subscribe(realtime.TableTickets, nil)
	defer subTickets.Cancel()
	subMessages := h.broker.Subscribe(realtime.TableMessages, nil)
	defer subMessages.Cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-subTickets.Events():
			if !ok {
				return false
			}
			c.SSEvent("change", ev)
		case ev, ok := <-subMessages.Events():
			if !ok {
				return false
			}
			c.SSEvent("change", ev)
		case <-c.Request.Context().Done():
			return false
		}
		return true
	})
}
