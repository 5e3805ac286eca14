package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/kidsight/internal/domain/sync/entity"
	"github.com/vadim/kidsight/internal/httpx/retry"
	"github.com/vadim/kidsight/internal/httpx/upstream/provider"
)

// ProviderClient defines the outbound messaging-provider API surface. All
// implementations are expected to retry rate-limited and transient failures
// internally.
type ProviderClient interface {
	ListConversations(ctx context.Context, instanceID, token string, pageSize int) ([]provider.Conversation, error)
	GetHistory(ctx context.Context, instanceID, token, chatID string, count int) ([]provider.Message, error)
	ResolveMedia(ctx context.Context, instanceID, token, chatID, messageID string) (string, error)
}

// ConversationRepository defines the interface for conversation storage
type ConversationRepository interface {
	FindByName(ctx context.Context, childID, externalName string) (*entity.Conversation, error)
	Create(ctx context.Context, conv *entity.Conversation) error
	TouchLastMessageAt(ctx context.Context, id string, at time.Time) error
	ListByChild(ctx context.Context, childID string, limit, offset int) ([]entity.Conversation, error)
	Count(ctx context.Context, childID string) (int64, error)
}

// MessageRepository defines the interface for message storage
type MessageRepository interface {
	ExistingByTimestamps(ctx context.Context, conversationID string, timestamps []time.Time) ([]entity.Message, error)
	InsertBatch(ctx context.Context, msgs []entity.Message) (int, error)
	BackfillMediaURL(ctx context.Context, messageID, mediaURL string) error
	ListByConversation(ctx context.Context, conversationID, childID string, limit, offset int) ([]entity.Message, error)
	Count(ctx context.Context, conversationID, childID string) (int64, error)
}

// RunStatusRepository records the latest run summary per child
type RunStatusRepository interface {
	Record(ctx context.Context, childID string, summary *entity.RunSummary, at time.Time) error
}

// MediaArchiver mirrors resolved media into durable storage. Optional;
// provider download URLs expire.
type MediaArchiver interface {
	Archive(ctx context.Context, childID, srcURL string) (string, error)
}

// Config holds the synchronizer's tunables. The caps exist to keep a single
// run inside the time budget; higher-traffic children need more runs, not a
// larger single run.
type Config struct {
	Budget           time.Duration
	MaxConversations int
	HistoryCount     int
	MaxMediaLookups  int
}

func (c Config) withDefaults() Config {
	if c.Budget <= 0 {
		c.Budget = 40 * time.Second
	}
	if c.MaxConversations <= 0 {
		c.MaxConversations = 4
	}
	if c.HistoryCount <= 0 {
		c.HistoryCount = 40
	}
	if c.MaxMediaLookups <= 0 {
		c.MaxMediaLookups = 5
	}
	return c
}

// Service pulls conversation and message history from the messaging provider
// into local storage, one child per run, under a wall-clock budget.
type Service struct {
	provider ProviderClient
	convRepo ConversationRepository
	msgRepo  MessageRepository
	runRepo  RunStatusRepository
	archiver MediaArchiver
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures the Service
type Option func(*Service)

// WithArchiver enables media archiving for resolved downloads
func WithArchiver(a MediaArchiver) Option {
	return func(s *Service) {
		s.archiver = a
	}
}

// WithClock overrides the wall clock (used by tests)
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates the synchronizer service
func New(
	pc ProviderClient,
	convRepo ConversationRepository,
	msgRepo MessageRepository,
	runRepo RunStatusRepository,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		provider: pc,
		convRepo: convRepo,
		msgRepo:  msgRepo,
		runRepo:  runRepo,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SyncInput identifies one run: the child and the already-resolved provider
// credential pair.
type SyncInput struct {
	ChildID    string
	InstanceID string
	Token      string
}

// Sync runs one bounded synchronization pass for a child. Per-conversation
// and per-message failures are recorded as skipped items and never abort the
// run; budget exhaustion ends the run early with accurate partial counts.
func (s *Service) Sync(ctx context.Context, in SyncInput) (*entity.RunSummary, error) {
	budget := NewBudget(s.cfg.Budget, s.now)
	summary := &entity.RunSummary{}

	remote, err := s.provider.ListConversations(ctx, in.InstanceID, in.Token, s.cfg.MaxConversations)
	if err != nil {
		// Retry exhaustion on the pre-flight call surfaces as the domain's
		// rate-limit error so the transport can map it to a status code.
		if errors.Is(err, retry.ErrRateLimited) {
			return nil, fmt.Errorf("listing conversations: %w", entity.ErrRateLimited)
		}
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	// Bounded prefix of the most recently active threads; completeness is
	// traded for predictable latency.
	if len(remote) > s.cfg.MaxConversations {
		remote = remote[:s.cfg.MaxConversations]
	}

	for _, rc := range remote {
		if budget.Exceeded() {
			s.logger.Info("sync budget exhausted, stopping early",
				"child_id", in.ChildID,
				"elapsed", budget.Elapsed(),
				"conversations_processed", summary.ConversationsProcessed,
			)
			break
		}

		imported, err := s.syncConversation(ctx, in, rc, budget, summary)
		if err != nil {
			s.logger.Error("conversation sync failed, continuing",
				"child_id", in.ChildID, "conversation", rc.ID, "error", err)
			summary.Skip(entity.SkippedConversation, rc.ID, err.Error())
			continue
		}

		summary.ConversationsProcessed++
		summary.MessagesImported += imported
	}

	if err := s.runRepo.Record(ctx, in.ChildID, summary, s.now()); err != nil {
		// The run itself succeeded; a stale status row only delays the
		// scheduler.
		s.logger.Error("recording run status failed", "child_id", in.ChildID, "error", err)
	}

	return summary, nil
}

// syncConversation maps one remote thread to a local conversation and imports
// its recent history. Returns the number of newly imported messages.
func (s *Service) syncConversation(ctx context.Context, in SyncInput, rc provider.Conversation, budget *Budget, summary *entity.RunSummary) (int, error) {
	name := SanitizeText(rc.Name)
	if name == "" {
		return 0, errors.New("conversation has no usable display name")
	}

	conv, err := s.convRepo.FindByName(ctx, in.ChildID, name)
	if err != nil {
		return 0, err
	}
	if conv == nil {
		conv = &entity.Conversation{
			ID:            uuid.New().String(),
			ChildID:       in.ChildID,
			ExternalName:  name,
			IsGroup:       rc.IsGroup(),
			LastMessageAt: rc.LastActivity(),
		}
		if err := s.convRepo.Create(ctx, conv); err != nil {
			return 0, err
		}
	}

	return s.importMessages(ctx, in, conv, rc, budget, summary)
}

// importMessages fetches a conversation's recent history and persists only
// previously-unseen messages. Dedup is a single batched lookup per fetch, and
// the insert is one grouped operation.
func (s *Service) importMessages(ctx context.Context, in SyncInput, conv *entity.Conversation, rc provider.Conversation, budget *Budget, summary *entity.RunSummary) (int, error) {
	history, err := s.provider.GetHistory(ctx, in.InstanceID, in.Token, rc.ID, s.cfg.HistoryCount)
	if err != nil {
		return 0, fmt.Errorf("fetching history: %w", err)
	}
	if len(history) == 0 {
		return 0, nil
	}

	timestamps := make([]time.Time, 0, len(history))
	for _, rm := range history {
		if rm.Timestamp != 0 {
			timestamps = append(timestamps, time.UnixMilli(rm.Timestamp).UTC())
		}
	}

	existing, err := s.msgRepo.ExistingByTimestamps(ctx, conv.ID, timestamps)
	if err != nil {
		return 0, fmt.Errorf("checking existing messages: %w", err)
	}

	byExternalID := make(map[string]entity.Message, len(existing))
	byTimestamp := make(map[int64]entity.Message, len(existing))
	for _, m := range existing {
		if m.ExternalMessageID != "" {
			byExternalID[m.ExternalMessageID] = m
			continue
		}
		byTimestamp[m.Timestamp.UnixMilli()] = m
	}

	var (
		newMsgs      []entity.Message
		batchKeys    = make(map[string]struct{}, len(history))
		mediaLookups int
		latest       time.Time
	)

	for _, rm := range history {
		msg, err := s.buildMessage(in.ChildID, conv.ID, rm)
		if err != nil {
			s.logger.Warn("skipping message",
				"conversation", rc.ID, "message", rm.ID, "error", err)
			summary.Skip(entity.SkippedMessage, rm.ID, err.Error())
			continue
		}

		if prev, ok := s.lookupExisting(byExternalID, byTimestamp, msg); ok {
			// Stored messages are immutable except for a missing media
			// URL a later fetch can now fill.
			if prev.MediaURL == "" && msg.MediaURL != "" {
				if err := s.msgRepo.BackfillMediaURL(ctx, prev.ID, msg.MediaURL); err != nil {
					s.logger.Warn("media backfill failed",
						"message", prev.ID, "error", err)
				}
			}
			continue
		}

		if _, dup := batchKeys[msg.DedupKey()]; dup {
			continue
		}
		batchKeys[msg.DedupKey()] = struct{}{}

		if msg.Type.IsMedia() && msg.MediaURL == "" &&
			mediaLookups < s.cfg.MaxMediaLookups && !budget.Exceeded() {
			mediaLookups++
			url, err := s.provider.ResolveMedia(ctx, in.InstanceID, in.Token, rc.ID, rm.ID)
			if err != nil {
				// Best effort; the message imports without resolvable
				// media.
				s.logger.Debug("media resolution failed",
					"conversation", rc.ID, "message", rm.ID, "error", err)
			} else {
				msg.MediaURL = url
			}
		}

		if s.archiver != nil && msg.Type.IsMedia() && msg.MediaURL != "" && !budget.Exceeded() {
			if archived, err := s.archiver.Archive(ctx, in.ChildID, msg.MediaURL); err != nil {
				s.logger.Debug("media archive failed",
					"message", rm.ID, "error", err)
			} else {
				msg.MediaURL = archived
			}
		}

		if msg.Timestamp.After(latest) {
			latest = msg.Timestamp
		}
		newMsgs = append(newMsgs, *msg)
	}

	inserted, err := s.msgRepo.InsertBatch(ctx, newMsgs)
	if err != nil {
		return inserted, fmt.Errorf("inserting messages: %w", err)
	}

	if !latest.IsZero() {
		if err := s.convRepo.TouchLastMessageAt(ctx, conv.ID, latest); err != nil {
			s.logger.Warn("updating conversation activity failed",
				"conversation", conv.ID, "error", err)
		}
	}

	return inserted, nil
}

// lookupExisting matches an incoming message against stored rows by dedup
// key: external message id against id-carrying rows, timestamp against rows
// stored without one. A shared timestamp alone is not a match when either
// side carries an id; the keys are distinct and both messages are kept.
func (s *Service) lookupExisting(byExternalID map[string]entity.Message, byTimestamp map[int64]entity.Message, msg *entity.Message) (entity.Message, bool) {
	if msg.ExternalMessageID != "" {
		prev, ok := byExternalID[msg.ExternalMessageID]
		return prev, ok
	}
	prev, ok := byTimestamp[msg.Timestamp.UnixMilli()]
	return prev, ok
}

// buildMessage normalizes one provider message into a local record:
// classification, sanitization, and sender attribution.
func (s *Service) buildMessage(childID, conversationID string, rm provider.Message) (*entity.Message, error) {
	if rm.Timestamp == 0 {
		return nil, errors.New("message has no timestamp")
	}

	text := SanitizeText(rm.Body())
	msg := &entity.Message{
		ID:                uuid.New().String(),
		ConversationID:    conversationID,
		ChildID:           childID,
		Type:              entity.ClassifyMessageType(rm.Type),
		Timestamp:         time.UnixMilli(rm.Timestamp).UTC(),
		TextContent:       text,
		TextExcerpt:       Excerpt(text),
		MediaURL:          rm.DownloadURL,
		MediaThumbnail:    rm.Thumbnail,
		ExternalMessageID: rm.ID,
	}

	if rm.Outgoing() {
		msg.IsFromChild = true
	} else {
		label := SanitizeText(rm.SenderName)
		if label == "" {
			label = rm.SenderID
		}
		msg.SenderLabel = label
	}

	return msg, nil
}

// ConversationsPage is one page of stored conversations
type ConversationsPage struct {
	Conversations []entity.Conversation
	Total         int64
	HasMore       bool
}

// ListConversations returns stored conversations for a child
func (s *Service) ListConversations(ctx context.Context, childID string, limit, offset int) (*ConversationsPage, error) {
	if limit <= 0 {
		limit = 50
	}

	conversations, err := s.convRepo.ListByChild(ctx, childID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	total, err := s.convRepo.Count(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("counting conversations: %w", err)
	}

	return &ConversationsPage{
		Conversations: conversations,
		Total:         total,
		HasMore:       int64(offset+len(conversations)) < total,
	}, nil
}

// MessagesPage is one page of stored messages
type MessagesPage struct {
	Messages []entity.Message
	Total    int64
	HasMore  bool
}

// ListMessages returns stored messages for a conversation of a child
func (s *Service) ListMessages(ctx context.Context, conversationID, childID string, limit, offset int) (*MessagesPage, error) {
	if limit <= 0 {
		limit = 50
	}

	messages, err := s.msgRepo.ListByConversation(ctx, conversationID, childID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	total, err := s.msgRepo.Count(ctx, conversationID, childID)
	if err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}

	return &MessagesPage{
		Messages: messages,
		Total:    total,
		HasMore:  int64(offset+len(messages)) < total,
	}, nil
}
