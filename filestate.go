package ziya

import "context"

// FileStateOracle is the contract of the file state manager. The core treats
// it as an external collaborator: a pure "has this file changed since the
// last context submission?" oracle plus a source of annotated file content.
// Its operations are atomic and idempotent.
//
// The context splitter uses only this oracle to decide stable vs dynamic
// content; it never hashes file contents itself. The core calls
// MarkContextSubmission exactly once per request, after the response stream
// has completed without a fatal error; that is what makes the stable/dynamic
// split deterministic across turns.
type FileStateOracle interface {
	// ChangedSinceLastSubmission reports whether path's content differs
	// from what was last submitted to the model for this conversation.
	// Files never submitted count as changed.
	ChangedSinceLastSubmission(ctx context.Context, conversationID, path string) bool

	// AnnotatedContent returns the file's lines, possibly annotated with
	// change markers, for rendering into the codebase section.
	AnnotatedContent(ctx context.Context, conversationID, path string) ([]string, error)

	// ChangeSummaries returns human-readable "overall changes" and "recent
	// changes" prefaces for the codebase section. Either may be empty.
	ChangeSummaries(ctx context.Context, conversationID string) (overall, recent string)

	// MarkContextSubmission records that the current file contents have
	// been sent to the model for this conversation.
	MarkContextSubmission(ctx context.Context, conversationID string)
}
