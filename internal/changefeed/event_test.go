package changefeed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestOperationType_IsValid(t *testing.T) {
	tests := []struct {
		op    string
		valid bool
	}{
		{"insert", true},
		{"update", true},
		{"replace", true},
		{"delete", true},
		{"invalidate", false},
		{"drop", false},
		{"dropDatabase", false},
		{"rename", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			assert.Equal(t, tt.valid, OperationType(tt.op).IsValid())
		})
	}
}

func TestNormalize_DropsUnsupportedOperations(t *testing.T) {
	for _, op := range []string{"invalidate", "drop", "createIndexes", ""} {
		evt := Normalize("payments", RawChange{OperationType: op, DocumentKey: "p1"})
		assert.Nil(t, evt, "operation %q must not produce an event", op)
	}
}

func TestNormalize_Update(t *testing.T) {
	raw := RawChange{
		OperationType: "update",
		DocumentKey:   "p1",
		UpdatedFields: map[string]interface{}{"status": "success"},
		FullDocument:  map[string]interface{}{"status": "success", "amount": 250.0},
	}

	evt := Normalize("payments", raw)
	require.NotNil(t, evt)
	assert.Equal(t, "payments", evt.Collection)
	assert.Equal(t, OperationUpdate, evt.OperationType)
	assert.Equal(t, "p1", evt.DocumentID)
	assert.Equal(t, map[string]interface{}{"status": "success"}, evt.UpdatedFields)
	assert.Equal(t, 250.0, evt.FullDocument["amount"])
	assert.NotZero(t, evt.Timestamp)
}

func TestNormalize_UpdatedFieldsOnlyForUpdates(t *testing.T) {
	raw := RawChange{
		OperationType: "insert",
		DocumentKey:   "p2",
		UpdatedFields: map[string]interface{}{"status": "pending"},
		FullDocument:  map[string]interface{}{"status": "pending"},
	}

	evt := Normalize("payments", raw)
	require.NotNil(t, evt)
	assert.Equal(t, OperationInsert, evt.OperationType)
	assert.Nil(t, evt.UpdatedFields)
}

func TestNormalize_StringifiesObjectIDs(t *testing.T) {
	oid := primitive.NewObjectID()
	customerOID := primitive.NewObjectID()

	raw := RawChange{
		OperationType: "update",
		DocumentKey:   oid,
		UpdatedFields: map[string]interface{}{"status": "failed"},
		FullDocument: map[string]interface{}{
			"_id":        oid,
			"customerId": customerOID,
			"amount":     100,
		},
	}

	evt := Normalize("payments", raw)
	require.NotNil(t, evt)
	assert.Equal(t, oid.Hex(), evt.DocumentID)
	assert.Equal(t, oid.Hex(), evt.FullDocument["_id"])
	assert.Equal(t, customerOID.Hex(), evt.FullDocument["customerId"])
	assert.Equal(t, 100, evt.FullDocument["amount"])
}

func TestNormalize_DeleteWithoutDocument(t *testing.T) {
	evt := Normalize("invoices", RawChange{OperationType: "delete", DocumentKey: "inv1"})
	require.NotNil(t, evt)
	assert.Equal(t, OperationDelete, evt.OperationType)
	assert.Nil(t, evt.FullDocument)
	assert.Nil(t, evt.UpdatedFields)
}
