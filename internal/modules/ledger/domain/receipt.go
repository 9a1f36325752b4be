package domain

// Receipt marks a span the ledger has applied to an aggregate. Spans are
// keyed by their bounds as sent, so a retried upsert finds its receipts.
type Receipt struct {
	UserID  string
	Domain  string
	StartMs int64
	EndMs   int64
}
