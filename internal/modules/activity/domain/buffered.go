package domain

type BufferState string

const (
	StatePending      BufferState = "pending"
	StateAcknowledged BufferState = "acknowledged"
)

// Buffered is an interval as held by the local buffer.
type Buffered struct {
	Interval
	State   BufferState `json:"state"`
	AckedAt int64       `json:"ackedAt,omitempty"`
}

type BufferStats struct {
	Pending      int `json:"pending"`
	Acknowledged int `json:"acknowledged"`
}
