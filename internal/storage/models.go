package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

type Conversation struct {
	ID        string
	UserID    string
	Title     string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message states.
const (
	MessagePending = "pending"
	MessageDone    = "done"
	MessageError   = "error"
)

type Message struct {
	ID             string
	ConversationID string
	Seq            int
	Role           string // "user" or "assistant"
	Content        string
	State          string
	Prompt         string // raw user prompt kept on pending assistant messages
	Model          string
	Expert         string
	ActionJSON     string // serialized tool invocation, if any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Pending action states.
const (
	ActionPending  = "pending"
	ActionApproved = "approved"
	ActionRejected = "rejected"
	ActionExecuted = "executed"
	ActionError    = "error"
)

type PendingAction struct {
	ID             string
	ConversationID string
	MessageID      string
	UserID         string
	Tool           string
	ParamsJSON     string
	State          string
	IdempotencyKey string
	Result         string
	Error          string
	CreatedID      int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Notification struct {
	ID            string
	UserID        string
	Title         string
	Body          string
	Type          string // "info", "warning", "error", "action"
	ActionPayload string // JSON tool invocation
	IsRead        bool
	IsDismissed   bool
	CreatedAt     time.Time
}

type WatchdogRule struct {
	ID         string
	Name       string
	Active     bool
	CheckType  string
	Target     string
	FilterJSON string
	Threshold  float64
	Recipients []string
	LastCheck  time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Document is an indexed piece of text: an internal document or an email.
type Document struct {
	ID        string
	Source    string // "docs" or "mail"
	Title     string
	Author    string
	Content   string
	VectorID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Product struct {
	ID           int64
	Name         string
	Type         string // "consu", "product" or "service"
	Price        float64
	Cost         float64
	QtyAvailable float64
	UpdatedAt    time.Time
}

type BoMLine struct {
	ProductID int64
	Qty       float64
}

type BoM struct {
	ID        int64
	ProductID int64
	Lines     []BoMLine
}

type MRPOrder struct {
	ID          int64
	Name        string
	ProductID   int64
	ProductName string
	BoMID       int64
	Quantity    float64
	State       string
	Deadline    time.Time
	CreatedAt   time.Time
}

// MRPFilter selects manufacturing orders. Zero fields do not filter.
type MRPFilter struct {
	States         []string
	DeadlineBefore time.Time
	Name           string
	Limit          int
}

type Location struct {
	ID    int64
	Name  string
	Usage string
}

// OrderKind distinguishes the two trade order tables.
type OrderKind string

const (
	SaleOrders     OrderKind = "sale"
	PurchaseOrders OrderKind = "purchase"
)

// Order is a sale or purchase order. DueDate is the commitment date for
// sales and the planned receipt date for purchases.
type Order struct {
	ID          int64
	Name        string
	PartnerName string
	State       string
	AmountTotal float64
	OrderDate   time.Time
	DueDate     time.Time
}

// OrderFilter selects trade orders. Zero fields do not filter; From and To
// are inclusive calendar days.
type OrderFilter struct {
	States    []string
	From      time.Time
	To        time.Time
	Partner   string
	DueBefore time.Time
}
