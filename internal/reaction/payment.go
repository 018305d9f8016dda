package reaction

import (
	"strings"
)

// payment is the projection of a payment document the reaction steps need.
type payment struct {
	ID            string
	Amount        float64
	CustomerID    string
	PaymentRef    string
	InvoiceNos    []string
	StatusMessage string
}

func paymentFromDocument(id string, doc map[string]interface{}) payment {
	pay := payment{ID: id}
	pay.Amount = toFloat(doc["amount"])
	pay.CustomerID, _ = doc["customerId"].(string)
	pay.PaymentRef, _ = doc["paymentRef"].(string)
	pay.StatusMessage, _ = doc["statusMessage"].(string)
	if s, _ := doc["invoiceNo"].(string); s != "" {
		pay.InvoiceNos = splitInvoiceNumbers(s)
	}
	return pay
}

// splitInvoiceNumbers parses the comma-separated invoice number field.
// Empty segments and surrounding whitespace are dropped.
func splitInvoiceNumbers(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
