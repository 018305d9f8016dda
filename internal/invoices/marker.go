// Package invoices marks downstream invoice records as paid when a
// payment settles.
package invoices

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"ledgerpulse/internal/reaction"
)

const defaultCollection = "invoices"

// Marker updates invoice documents in MongoDB.
type Marker struct {
	coll   *mongo.Collection
	logger *slog.Logger
}

func NewMarker(db *mongo.Database, collection string, logger *slog.Logger) *Marker {
	if collection == "" {
		collection = defaultCollection
	}
	return &Marker{
		coll:   db.Collection(collection),
		logger: logger.With("component", "invoices"),
	}
}

// MarkPaidByReference marks every invoice carrying the payment reference
// as paid. It reports whether any document matched.
func (m *Marker) MarkPaidByReference(ctx context.Context, paymentRef string) (bool, error) {
	return m.markPaid(ctx, bson.M{"paymentRef": paymentRef})
}

// MarkPaidByInvoiceNo marks the invoice with the given invoice number as
// paid. It reports whether any document matched.
func (m *Marker) MarkPaidByInvoiceNo(ctx context.Context, invoiceNo string) (bool, error) {
	return m.markPaid(ctx, bson.M{"invoiceNo": invoiceNo})
}

func (m *Marker) markPaid(ctx context.Context, filter bson.M) (bool, error) {
	update := bson.M{"$set": bson.M{
		"status": "paid",
		"paidAt": time.Now().UnixMilli(),
	}}
	res, err := m.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

var _ reaction.InvoiceMarker = (*Marker)(nil)
