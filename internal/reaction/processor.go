package reaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ledgerpulse/internal/changefeed"
)

// Terminal payment states. Only transitions into these trigger the reaction.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Config controls the payment reaction processor.
type Config struct {
	// Collection is the watched source collection.
	Collection string `yaml:"collection"`

	// StatusField is the document field whose transition drives the reaction.
	StatusField string `yaml:"status_field"`

	// DedupTTL is the duplicate-suppression window. Environments with slower
	// feed reconnects should widen it.
	DedupTTL time.Duration `yaml:"dedup_ttl"`

	// StepTimeout bounds each individual side-effect step.
	StepTimeout time.Duration `yaml:"step_timeout"`

	// System actor attributed on timeline notes.
	SystemActorID   string `yaml:"system_actor_id"`
	SystemActorName string `yaml:"system_actor_name"`
}

// DefaultConfig returns default reaction configuration.
func DefaultConfig() Config {
	return Config{
		Collection:      "payments",
		StatusField:     "status",
		DedupTTL:        60 * time.Second,
		StepTimeout:     10 * time.Second,
		SystemActorID:   "system",
		SystemActorName: "System",
	}
}

// ApplyDefaults fills in missing values with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Collection == "" {
		c.Collection = d.Collection
	}
	if c.StatusField == "" {
		c.StatusField = d.StatusField
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = d.DedupTTL
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = d.StepTimeout
	}
	if c.SystemActorID == "" {
		c.SystemActorID = d.SystemActorID
	}
	if c.SystemActorName == "" {
		c.SystemActorName = d.SystemActorName
	}
}

// Collaborators are the downstream services the processor calls into.
type Collaborators struct {
	Audit      AuditSink
	Invoices   InvoiceMarker
	Timeline   TimelineService
	Notifier   NotificationGateway
	Recipients RecipientSource
}

// Processor reacts to terminal payment-status transitions with a bounded set
// of independent side-effect steps. It is registered as a changefeed handler
// for the payments collection.
type Processor struct {
	cfg    Config
	deps   Collaborators
	dedup  *dedupCache
	logger *slog.Logger
}

func NewProcessor(cfg Config, deps Collaborators, logger *slog.Logger) *Processor {
	cfg.ApplyDefaults()
	return &Processor{
		cfg:    cfg,
		deps:   deps,
		dedup:  newDedupCache(cfg.DedupTTL),
		logger: logger.With("component", "reaction"),
	}
}

// OnEvent is the changefeed handler. Every failure mode inside it is
// converted to a log entry; nothing propagates into the watcher's dispatch
// loop.
func (p *Processor) OnEvent(ctx context.Context, evt *changefeed.Event) {
	if evt.OperationType != changefeed.OperationUpdate {
		return
	}

	raw, ok := evt.UpdatedFields[p.cfg.StatusField]
	if !ok {
		return
	}
	status, _ := raw.(string)

	key := evt.DocumentID + ":" + status
	if p.dedup.Seen(key) {
		p.logger.Debug("duplicate payment event suppressed", "key", key)
		return
	}

	if status != StatusSuccess && status != StatusFailed {
		return
	}

	if evt.FullDocument == nil {
		p.logger.Warn("payment event missing post-image, skipping reaction",
			"documentId", evt.DocumentID, "status", status)
		return
	}

	pay := paymentFromDocument(evt.DocumentID, evt.FullDocument)
	p.logger.Info("processing payment status transition",
		"paymentId", pay.ID, "status", status, "amount", pay.Amount)

	// Each step is an independent obligation. A failure in one is caught,
	// logged, and must not prevent the remaining steps from running.
	p.runStep(ctx, pay.ID, "audit", func(ctx context.Context) error {
		return p.writeAudit(ctx, pay, status)
	})
	if status == StatusSuccess {
		p.runStep(ctx, pay.ID, "mark_invoices", func(ctx context.Context) error {
			return p.markInvoices(ctx, pay)
		})
	}
	p.runStep(ctx, pay.ID, "timeline", func(ctx context.Context) error {
		return p.appendTimeline(ctx, pay, status)
	})
	p.runStep(ctx, pay.ID, "notify", func(ctx context.Context) error {
		return p.notifyRecipients(ctx, pay, status)
	})
}

// Run performs periodic dedup-cache maintenance until ctx is cancelled.
// The sweep interval equals the TTL.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.DedupTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := p.dedup.Sweep(); removed > 0 {
				p.logger.Debug("dedup cache swept", "removed", removed, "remaining", p.dedup.Len())
			}
		}
	}
}

// runStep executes one side-effect step with a bounded timeout, converting
// any failure or panic into a log entry so sibling steps still run. The
// outcome of every step is logged regardless of prior step failures.
func (p *Processor) runStep(ctx context.Context, entityID, name string, fn func(context.Context) error) {
	stepCtx := ctx
	if p.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, p.cfg.StepTimeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("reaction step panicked", "step", name, "paymentId", entityID, "panic", rec)
		}
	}()

	if err := fn(stepCtx); err != nil {
		p.logger.Error("reaction step failed", "step", name, "paymentId", entityID, "error", err)
		return
	}
	p.logger.Info("reaction step completed", "step", name, "paymentId", entityID)
}

func (p *Processor) writeAudit(ctx context.Context, pay payment, status string) error {
	entry := AuditEntry{
		Category:   "payment",
		Action:     "status_" + status,
		Module:     "payments",
		EntityID:   pay.ID,
		EntityType: "payment",
		Status:     status,
		Details: fmt.Sprintf("amount=%.2f customer=%s invoices=%s",
			pay.Amount, pay.CustomerID, strings.Join(pay.InvoiceNos, ",")),
	}
	if status == StatusFailed {
		entry.ErrorMessage = pay.StatusMessage
	}
	p.deps.Audit.Record(ctx, entry)
	return nil
}

// markInvoices updates downstream records matched by the internal payment
// reference and, independently, by every invoice number on the document.
// Each attempt is its own atomic operation; a failure on one does not block
// the others, and every attempt's outcome is recorded.
func (p *Processor) markInvoices(ctx context.Context, pay payment) error {
	if pay.PaymentRef != "" {
		matched, err := p.deps.Invoices.MarkPaidByReference(ctx, pay.PaymentRef)
		if err != nil {
			p.logger.Error("mark by payment reference failed",
				"paymentId", pay.ID, "paymentRef", pay.PaymentRef, "error", err)
		} else {
			p.logger.Info("mark by payment reference",
				"paymentId", pay.ID, "paymentRef", pay.PaymentRef, "matched", matched)
		}
	}

	for _, invoiceNo := range pay.InvoiceNos {
		matched, err := p.deps.Invoices.MarkPaidByInvoiceNo(ctx, invoiceNo)
		if err != nil {
			p.logger.Error("mark by invoice number failed",
				"paymentId", pay.ID, "invoiceNo", invoiceNo, "error", err)
			continue
		}
		p.logger.Info("mark by invoice number",
			"paymentId", pay.ID, "invoiceNo", invoiceNo, "matched", matched)
	}
	return nil
}

func (p *Processor) appendTimeline(ctx context.Context, pay payment, status string) error {
	if pay.CustomerID == "" {
		return errors.New("payment document has no customer id")
	}

	var message string
	switch status {
	case StatusSuccess:
		message = fmt.Sprintf("Payment %s of %.2f received (invoices: %s).",
			pay.ID, pay.Amount, strings.Join(pay.InvoiceNos, ", "))
	case StatusFailed:
		message = fmt.Sprintf("Payment %s of %.2f failed: %s.",
			pay.ID, pay.Amount, pay.StatusMessage)
	}

	return p.deps.Timeline.AppendNote(ctx, TimelineNote{
		CustomerID:  pay.CustomerID,
		ContextType: "payment",
		ContextID:   pay.ID,
		Message:     message,
		AuthorID:    p.cfg.SystemActorID,
		AuthorName:  p.cfg.SystemActorName,
		References:  pay.InvoiceNos,
	})
}

// notifyRecipients dispatches one message per configured recipient,
// sequentially. A delivery failure for one recipient is logged and does not
// block the remaining recipients. The recipient list is read fresh per event.
func (p *Processor) notifyRecipients(ctx context.Context, pay payment, status string) error {
	if p.deps.Notifier == nil || p.deps.Recipients == nil {
		return nil
	}
	recipients := p.deps.Recipients.Recipients()
	if len(recipients) == 0 {
		return nil
	}

	subject, html := composeNotification(pay, status)
	for _, to := range recipients {
		if err := p.deps.Notifier.Send(ctx, NotificationMessage{To: to, Subject: subject, HTML: html}); err != nil {
			p.logger.Error("notification dispatch failed",
				"paymentId", pay.ID, "recipient", to, "error", err)
		}
	}
	return nil
}

func composeNotification(pay payment, status string) (subject, html string) {
	invoices := strings.Join(pay.InvoiceNos, ", ")
	if status == StatusSuccess {
		subject = fmt.Sprintf("Payment received: %s", invoices)
		html = fmt.Sprintf(
			"<p>Payment <b>%s</b> of <b>%.2f</b> succeeded.</p><p>Invoices: %s</p>",
			pay.ID, pay.Amount, invoices)
		return
	}
	subject = fmt.Sprintf("Payment failed: %s", invoices)
	html = fmt.Sprintf(
		"<p>Payment <b>%s</b> of <b>%.2f</b> failed.</p><p>Invoices: %s</p><p>Reason: %s</p>",
		pay.ID, pay.Amount, invoices, pay.StatusMessage)
	return
}
