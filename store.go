package ziya

import "context"

// Thread is one persisted conversation.
type Thread struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// ConversationStore persists chat history across CLI runs. Persistence is
// best-effort: the runtime works without a store, it just forgets.
type ConversationStore interface {
	// Init creates the backing schema.
	Init(ctx context.Context) error
	// EnsureThread returns the thread with the given id, creating it if
	// needed.
	EnsureThread(ctx context.Context, id, title string) (Thread, error)
	// SaveExchange appends one human/assistant exchange to a thread.
	SaveExchange(ctx context.Context, threadID, human, assistant string) error
	// History returns a thread's exchanges, oldest first.
	History(ctx context.Context, threadID string) (ChatHistory, error)
	// Threads lists all threads, most recently updated first.
	Threads(ctx context.Context) ([]Thread, error)
	// Close releases the store.
	Close() error
}
