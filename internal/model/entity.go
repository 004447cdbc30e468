package model

import "time"

type TicketStatus string

const (
	TicketStatusOpen   TicketStatus = "open"
	TicketStatusClosed TicketStatus = "closed"
)

type SenderRole string

const (
	SenderRoleAdmin  SenderRole = "admin"
	SenderRoleClient SenderRole = "client"
)

// Ticket — сессия поддержки одной организации. updated_at двигается при
// каждом сообщении и смене статуса, список тикетов сортируется по нему.
type Ticket struct {
	ID             string       `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID string       `gorm:"type:uuid;index;not null" json:"organization_id"`
	Status         TicketStatus `gorm:"type:varchar(32);index;not null" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

func (Ticket) TableName() string { return "support_tickets" }

// Message — одно сообщение внутри тикета. Флаг Read осмыслен только для
// sender_role=client (видел ли админ сообщение); сообщения админа пишутся
// сразу с read=true.
type Message struct {
	ID         string     `gorm:"type:uuid;primaryKey" json:"id"`
	TicketID   string     `gorm:"type:uuid;index;not null" json:"ticket_id"`
	SenderRole SenderRole `gorm:"type:varchar(16);index;not null" json:"sender_role"`
	Content    string     `gorm:"type:text;not null" json:"content"`
	Read       bool       `gorm:"not null;default:false" json:"read"`

	CreatedAt time.Time `json:"created_at"`
}

func (Message) TableName() string { return "ticket_messages" }

// Organization — справочник организаций. Владеет им внешний сервис, мы
// только читаем display name для списка тикетов.
type Organization struct {
	ID          string `gorm:"type:uuid;primaryKey" json:"id"`
	DisplayName string `gorm:"type:varchar(255);not null" json:"display_name"`
}

func (Organization) TableName() string { return "organizations" }
