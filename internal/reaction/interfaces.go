package reaction

import (
	"context"
)

// AuditEntry describes the outcome of a business reaction.
type AuditEntry struct {
	Category     string
	Action       string
	Module       string
	EntityID     string
	EntityType   string
	Status       string
	Details      string
	ErrorMessage string
}

// AuditSink records audit entries. Implementations own their failures:
// Record never returns an error into the caller.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry)
}

// TimelineNote is a free-text note appended to a customer record.
type TimelineNote struct {
	CustomerID  string
	ContextType string
	ContextID   string
	Message     string
	AuthorID    string
	AuthorName  string
	References  []string
}

// TimelineService appends notes to the owning customer's timeline.
type TimelineService interface {
	AppendNote(ctx context.Context, note TimelineNote) error
}

// InvoiceMarker updates downstream invoice records when payments settle.
// Both methods report whether any record matched.
type InvoiceMarker interface {
	MarkPaidByReference(ctx context.Context, paymentRef string) (bool, error)
	MarkPaidByInvoiceNo(ctx context.Context, invoiceNo string) (bool, error)
}

// NotificationMessage is one outbound message request.
type NotificationMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// NotificationGateway dispatches notification requests. Delivery itself is
// owned elsewhere; only that the request was issued matters here.
type NotificationGateway interface {
	Send(ctx context.Context, msg NotificationMessage) error
}

// RecipientSource supplies the current notification recipient list. It is
// consulted on every event so runtime changes take effect immediately.
type RecipientSource interface {
	Recipients() []string
}
