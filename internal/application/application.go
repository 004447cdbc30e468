package application

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/psds-microservice/support-chat-service/internal/chat"
	"github.com/psds-microservice/support-chat-service/internal/config"
	"github.com/psds-microservice/support-chat-service/internal/controller"
	"github.com/psds-microservice/support-chat-service/internal/database"
	"github.com/psds-microservice/support-chat-service/internal/handler"
	"github.com/psds-microservice/support-chat-service/internal/kafka"
	"github.com/psds-microservice/support-chat-service/internal/orgdir"
	"github.com/psds-microservice/support-chat-service/internal/realtime"
	"github.com/psds-microservice/support-chat-service/internal/router"
	"github.com/psds-microservice/support-chat-service/internal/store"
)

// API приложение: HTTP-сервер, контроллеры чата, слушатель NOTIFY.
type API struct {
	cfg      *config.Config
	httpSrv  *http.Server
	listener *realtime.Listener
	list     *controller.TicketListController
	conv     *controller.ConversationController
	badge    *controller.BadgeCounter
	producer *kafka.Producer
}

// NewAPI собирает приложение: конфиг → миграции → БД → сторы → брокер →
// контроллеры → HTTP.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	broker := realtime.NewBroker()

	// При заданном PG-канале записи уведомляют через pg_notify, а локальный
	// брокер кормит слушатель: изменения видят все инстансы. Без канала
	// события ходят только внутри процесса.
	var notifier realtime.Notifier = broker
	var listener *realtime.Listener
	if cfg.PGNotifyChannel != "" {
		notifier = realtime.NewPGNotifier(db, cfg.PGNotifyChannel)
		listener, err = realtime.NewListener(cfg.DatabaseURL(), cfg.PGNotifyChannel, broker)
		if err != nil {
			return nil, fmt.Errorf("pg listener: %w", err)
		}
	}

	tickets := store.NewTicketStore(db, notifier)
	messages := store.NewMessageStore(db, notifier)
	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicChat)
	svc := chat.NewService(tickets, messages, producer)

	list := controller.NewTicketListController(tickets, messages, broker)
	if err := list.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("ticket list: %w", err)
	}
	conv := controller.NewConversationController(svc, tickets, messages, broker, list)
	badge := controller.NewBadgeCounter(broker)
	orgs := orgdir.NewClient(cfg.OrgDirectoryURL, db)

	chatHandler := handler.NewChatHandler(svc, messages, list, conv, badge, orgs, broker)

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.New(chatHandler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0, // SSE-поток живёт дольше любого таймаута записи
		IdleTimeout:       60 * time.Second,
	}

	return &API{
		cfg:      cfg,
		httpSrv:  httpSrv,
		listener: listener,
		list:     list,
		conv:     conv,
		badge:    badge,
		producer: producer,
	}, nil
}

// Run запускает HTTP-сервер и слушатель NOTIFY, блокируется до отмены ctx.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	log.Printf("HTTP server listening on %s", a.httpSrv.Addr)
	log.Printf("  Swagger UI:    %s/swagger", base)
	log.Printf("  Health:        %s/health", base)
	log.Printf("  Metrics:       %s/metrics", base)
	log.Printf("  API v1:        %s/api/v1/", base)
	log.Printf("  Events (SSE):  %s/api/v1/events", base)

	if a.listener != nil {
		go a.listener.Run()
	}
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	a.conv.Deselect()
	a.list.Close()
	a.badge.Close()
	if a.listener != nil {
		_ = a.listener.Close()
	}
	if err := a.producer.Close(); err != nil {
		log.Printf("kafka: close: %v", err)
	}
	return nil
}
