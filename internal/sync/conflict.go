package sync

// ConflictPolicy governs what Import does when an incoming record already
// exists locally at the same (vault, record) location. Records are opaque:
// there is no automatic three-way content merge.
type ConflictPolicy int

const (
	// UnionLocal keeps the local record and discards the incoming one on
	// collision; non-colliding records from both sides are still unioned
	// in. This is the default.
	UnionLocal ConflictPolicy = iota
	// ReplaceFromRemote overwrites the local record with the incoming one
	// on collision.
	ReplaceFromRemote
)
