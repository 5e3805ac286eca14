package entity

// SkippedKind identifies what kind of item a run skipped
type SkippedKind string

const (
	SkippedConversation SkippedKind = "conversation"
	SkippedMessage      SkippedKind = "message"
)

// SkippedItem records one item a run could not import, with the reason.
// Skips never fail a run; they are reported so failures stay observable.
type SkippedItem struct {
	Kind   SkippedKind `json:"kind"`
	Ref    string      `json:"ref"`
	Reason string      `json:"reason"`
}

// RunSummary is the result of one synchronizer run for one child. A run that
// stops on budget exhaustion is still a success; the counts reflect exactly
// what was imported.
type RunSummary struct {
	ConversationsProcessed int           `json:"conversations_processed"`
	MessagesImported       int           `json:"messages_imported"`
	Skipped                []SkippedItem `json:"skipped,omitempty"`
}

// Skip appends a skipped item to the summary.
func (s *RunSummary) Skip(kind SkippedKind, ref, reason string) {
	s.Skipped = append(s.Skipped, SkippedItem{Kind: kind, Ref: ref, Reason: reason})
}
