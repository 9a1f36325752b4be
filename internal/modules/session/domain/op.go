package domain

type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
)

// Op is one queued session mutation awaiting delivery. Snapshot is the full
// record after the mutation.
type Op struct {
	Seq       int64  `json:"seq"`
	LocalID   string `json:"localId"`
	Kind      OpKind `json:"kind"`
	Snapshot  Record `json:"snapshot"`
	CreatedAt int64  `json:"createdAt"`
}
