package domain

// Thread is a single persistent conversation.
type Thread struct {
	ID      string
	Title   string
	Summary string // rolling summary of compacted older history; empty when none
	// Unix seconds. UpdatedTs is refreshed on every message append or
	// metadata edit and never moves backwards.
	CreatedTs int64
	UpdatedTs int64
}

// Message is a single persisted message within a thread. Content is
// append-only once finalized; messages keep a strict, stable creation order.
type Message struct {
	ID         string
	ThreadID   string
	Role       Role
	Content    string
	TokenCount int // approximate, advisory only
	CreatedTs  int64
}

// DefaultTitle is assigned to new threads until auto-titling replaces it.
const DefaultTitle = "Untitled"
