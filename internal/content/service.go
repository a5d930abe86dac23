package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"pyrus-portal/portal-backend/internal/auth"
	apperrors "pyrus-portal/portal-backend/internal/common/errors"
	"pyrus-portal/portal-backend/internal/events"
	"pyrus-portal/portal-backend/pkg/workflows"
)

// editableStatuses are the states in which producers may change the payload.
var editableStatuses = []workflows.Status{workflows.StatusDraft, workflows.StatusRevisionsRequested}

type Service interface {
	CreateContent(ctx context.Context, req CreateContentRequest, actor auth.Actor) (*ContentItem, error)
	GetContent(ctx context.Context, id uuid.UUID, actor auth.Actor) (*ContentItem, error)
	ListContent(ctx context.Context, req ListRequest, actor auth.Actor) (*ListResult, error)
	UpdateContent(ctx context.Context, id uuid.UUID, req UpdateContentRequest, actor auth.Actor) (*ContentItem, error)

	Transition(ctx context.Context, id uuid.UUID, req TransitionRequest, actor auth.Actor) (*ContentItem, error)
	AvailableActions(ctx context.Context, id uuid.UUID, actor auth.Actor) ([]workflows.Action, error)
	History(ctx context.Context, id uuid.UUID, actor auth.Actor) ([]StatusHistoryEntry, error)
	Feedback(ctx context.Context, id uuid.UUID, actor auth.Actor) ([]Feedback, error)

	CheckConsistency(ctx context.Context, id uuid.UUID) (*ConsistencyReport, error)
	RepairReviewRound(ctx context.Context, id uuid.UUID, actor auth.Actor) (*ConsistencyReport, error)
	AuditAll(ctx context.Context, repair bool) (*AuditSummary, error)
	PublishDue(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

type CreateContentRequest struct {
	ClientID         uuid.UUID      `json:"client_id" binding:"required"`
	Title            string         `json:"title" binding:"required"`
	Body             string         `json:"body"`
	ContentType      ContentType    `json:"content_type" binding:"required"`
	Channel          string         `json:"channel"`
	Metadata         datatypes.JSON `json:"metadata"`
	ApprovalRequired *bool          `json:"approval_required"`
	PublishAt        *time.Time     `json:"publish_at"`
}

type UpdateContentRequest struct {
	Title          *string        `json:"title"`
	Body           *string        `json:"body"`
	Channel        *string        `json:"channel"`
	Metadata       datatypes.JSON `json:"metadata"`
	PublishAt      *time.Time     `json:"publish_at"`
	ClearPublishAt bool           `json:"clear_publish_at"`
}

type ListRequest struct {
	ClientID    *uuid.UUID
	Status      *workflows.Status
	ContentType *ContentType
	Page        int
	PageSize    int
}

type ListResult struct {
	Items    []ContentItem `json:"items"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

type TransitionRequest struct {
	TargetStatus workflows.Status
	Note         string
}

// Options tunes store access.
type Options struct {
	// StoreTimeout bounds each operation's store round-trips. Zero disables it.
	StoreTimeout time.Duration
	// ReadRetries is how many times an idempotent load is retried.
	ReadRetries  int
	RetryBackoff time.Duration
	AuditBatch   int
	PublishBatch int
}

func DefaultOptions() Options {
	return Options{
		StoreTimeout: 5 * time.Second,
		ReadRetries:  2,
		RetryBackoff: 100 * time.Millisecond,
		AuditBatch:   200,
		PublishBatch: 100,
	}
}

type contentService struct {
	repo    Repository
	bus     events.Publisher
	logger  *zap.Logger
	machine *workflows.StateMachine
	opts    Options
	now     func() time.Time
}

// NewService wires the workflow service. bus may be nil when nobody listens
// for transition events.
func NewService(repo Repository, bus events.Publisher, logger *zap.Logger, opts Options) Service {
	return &contentService{
		repo:    repo,
		bus:     bus,
		logger:  logger,
		machine: workflows.NewStateMachine(),
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// =====================================================
// Authoring
// =====================================================

func (s *contentService) CreateContent(ctx context.Context, req CreateContentRequest, actor auth.Actor) (*ContentItem, error) {
	if !actor.IsProducer() {
		return nil, apperrors.Forbidden("only producers can create content")
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, apperrors.ValidationError("title", "must not be empty")
	}
	if !req.ContentType.Valid() {
		return nil, apperrors.ValidationError("content_type", "must be one of blog_post, ad_copy, social_post")
	}
	if req.ClientID == uuid.Nil {
		return nil, apperrors.ValidationError("client_id", "is required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	approvalRequired := true
	if req.ApprovalRequired != nil {
		approvalRequired = *req.ApprovalRequired
	}

	now := s.now()
	item := &ContentItem{
		ID:               uuid.New(),
		ClientID:         req.ClientID,
		Title:            strings.TrimSpace(req.Title),
		Body:             req.Body,
		ContentType:      req.ContentType,
		Channel:          req.Channel,
		Metadata:         req.Metadata,
		Status:           workflows.StatusDraft,
		ApprovalRequired: approvalRequired,
		ReviewRound:      0,
		Version:          1,
		StatusChangedAt:  now,
		PublishAt:        req.PublishAt,
		CreatedByID:      actor.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
		StatusHistory:    []StatusHistoryEntry{},
	}

	if err := s.repo.CreateContent(ctx, item); err != nil {
		s.logger.Error("Failed to create content", zap.Error(err))
		return nil, apperrors.StoreUnavailable(fmt.Errorf("failed to create content: %w", err))
	}

	s.logger.Info("Content created",
		zap.String("content_id", item.ID.String()),
		zap.String("client_id", item.ClientID.String()),
		zap.String("content_type", string(item.ContentType)),
		zap.Bool("approval_required", item.ApprovalRequired),
	)
	return item, nil
}

func (s *contentService) GetContent(ctx context.Context, id uuid.UUID, actor auth.Actor) (*ContentItem, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.loadVisible(ctx, id, actor)
}

func (s *contentService) ListContent(ctx context.Context, req ListRequest, actor auth.Actor) (*ListResult, error) {
	page, pageSize := req.Page, req.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	filter := ListFilter{
		ClientID:    req.ClientID,
		Status:      req.Status,
		ContentType: req.ContentType,
		Limit:       pageSize,
		Offset:      (page - 1) * pageSize,
	}
	if !actor.IsProducer() {
		if actor.ClientID == nil {
			return nil, apperrors.Forbidden("client actor has no client account")
		}
		filter.ClientID = actor.ClientID
		filter.ExcludeDraft = true
		if req.Status != nil && *req.Status == workflows.StatusDraft {
			return &ListResult{Items: []ContentItem{}, Page: page, PageSize: pageSize}, nil
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	items, total, err := s.repo.ListContent(ctx, filter)
	if err != nil {
		s.logger.Error("Failed to list content", zap.Error(err))
		return nil, apperrors.StoreUnavailable(fmt.Errorf("failed to list content: %w", err))
	}
	if items == nil {
		items = []ContentItem{}
	}
	return &ListResult{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *contentService) UpdateContent(ctx context.Context, id uuid.UUID, req UpdateContentRequest, actor auth.Actor) (*ContentItem, error) {
	if !actor.IsProducer() {
		return nil, apperrors.Forbidden("only producers can edit content")
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return nil, apperrors.ValidationError("title", "must not be empty")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.repo.UpdatePayload(ctx, id, editableStatuses, PayloadUpdate{
		Title:          req.Title,
		Body:           req.Body,
		Channel:        req.Channel,
		Metadata:       req.Metadata,
		PublishAt:      req.PublishAt,
		ClearPublishAt: req.ClearPublishAt,
	})
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, apperrors.NotFound("content", id.String())
	case errors.Is(err, ErrNotEditable):
		current, loadErr := s.load(ctx, id)
		conflict := apperrors.Conflict("content can only be edited while in draft or revisions_requested")
		if loadErr == nil {
			conflict.WithDetail("current_status", current.Status)
		}
		return nil, conflict
	case err != nil:
		s.logger.Error("Failed to update content", zap.String("content_id", id.String()), zap.Error(err))
		return nil, apperrors.StoreUnavailable(fmt.Errorf("failed to update content: %w", err))
	}

	return s.load(ctx, id)
}

// =====================================================
// Workflow
// =====================================================

func (s *contentService) Transition(ctx context.Context, id uuid.UUID, req TransitionRequest, actor auth.Actor) (*ContentItem, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	item, err := s.loadVisible(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	if _, err := s.machine.Validate(item.Subject(), req.TargetStatus, actor.Role, req.Note); err != nil {
		s.logger.Info("Transition rejected",
			zap.String("content_id", id.String()),
			zap.String("from", item.Status.String()),
			zap.String("to", req.TargetStatus.String()),
			zap.String("role", actor.Role.String()),
			zap.Error(err),
		)
		return nil, s.rejection(err, item, actor)
	}

	now := s.now()
	round := workflows.NextReviewRound(item.ReviewRound, req.TargetStatus)
	entry := &StatusHistoryEntry{
		ID:            uuid.New(),
		ContentID:     item.ID,
		Sequence:      len(item.StatusHistory) + 1,
		FromStatus:    item.Status,
		Status:        req.TargetStatus,
		ChangedAt:     now,
		ChangedByID:   optional(actor.ID),
		ChangedByName: optional(actor.Name),
		ChangedByRole: actor.Role,
		Note:          optional(strings.TrimSpace(req.Note)),
		ReviewRound:   round,
	}

	err = s.repo.ApplyTransition(ctx, TransitionWrite{
		ContentID:       item.ID,
		ExpectedStatus:  item.Status,
		ExpectedVersion: item.Version,
		ReviewRound:     round,
		Entry:           entry,
	})
	if err != nil {
		return nil, s.transitionFailure(ctx, err, item, req.TargetStatus)
	}

	from := item.Status
	item.Status = req.TargetStatus
	item.ReviewRound = round
	item.StatusChangedAt = now
	item.UpdatedAt = now
	item.Version++
	item.StatusHistory = append(item.StatusHistory, *entry)

	s.logger.Info("Content transitioned",
		zap.String("content_id", item.ID.String()),
		zap.String("from", from.String()),
		zap.String("to", item.Status.String()),
		zap.String("actor_id", actor.ID),
		zap.String("role", actor.Role.String()),
		zap.Int("review_round", item.ReviewRound),
		zap.Int("version", item.Version),
	)

	s.publishTransition(ctx, item, entry)
	return item, nil
}

func (s *contentService) rejection(err error, item *ContentItem, actor auth.Actor) error {
	switch {
	case errors.Is(err, workflows.ErrMissingNote):
		return apperrors.ValidationError("note", "a note is required for this transition").WithCause(err)
	case errors.Is(err, workflows.ErrUnknownStatus), errors.Is(err, workflows.ErrUnknownRole):
		return apperrors.BadRequest(err.Error()).WithCause(err)
	default:
		return apperrors.InvalidTransition(err.Error()).
			WithCause(err).
			WithDetail("current_status", item.Status).
			WithDetail("available_actions", s.machine.NextActions(item.Status, actor.Role, item.ApprovalRequired))
	}
}

func (s *contentService) transitionFailure(ctx context.Context, err error, item *ContentItem, target workflows.Status) error {
	switch {
	case errors.Is(err, ErrConflict):
		conflict := apperrors.Conflict("content was changed by someone else; reload before retrying").WithCause(err)
		if current, loadErr := s.load(ctx, item.ID); loadErr == nil {
			conflict.WithDetail("current_status", current.Status).WithDetail("current_version", current.Version)
		}
		s.logger.Warn("Transition lost a concurrent update",
			zap.String("content_id", item.ID.String()),
			zap.String("expected_status", item.Status.String()),
			zap.Int("expected_version", item.Version),
			zap.String("to", target.String()),
		)
		return conflict
	case errors.Is(err, ErrNotFound):
		return apperrors.NotFound("content", item.ID.String())
	default:
		s.logger.Error("Failed to persist transition",
			zap.String("content_id", item.ID.String()),
			zap.String("to", target.String()),
			zap.Error(err),
		)
		return apperrors.StoreUnavailable(fmt.Errorf("failed to persist transition: %w", err))
	}
}

func (s *contentService) publishTransition(ctx context.Context, item *ContentItem, entry *StatusHistoryEntry) {
	if s.bus == nil {
		return
	}
	event, err := events.NewEvent(EventTypeTransition, "content-service", TransitionCompleted{
		ContentID:   item.ID,
		ClientID:    item.ClientID,
		Title:       item.Title,
		FromStatus:  entry.FromStatus,
		ToStatus:    entry.Status,
		ReviewRound: entry.ReviewRound,
		ActorID:     entry.ChangedByID,
		ActorName:   entry.ChangedByName,
		ActorRole:   entry.ChangedByRole,
		Note:        entry.Note,
		ChangedAt:   entry.ChangedAt,
	})
	if err == nil {
		err = s.bus.Publish(context.WithoutCancel(ctx), SubjectTransitionCompleted, event)
	}
	if err != nil {
		// the transition is already committed; collaborators can catch up from history
		s.logger.Error("Failed to publish transition event",
			zap.String("content_id", item.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *contentService) AvailableActions(ctx context.Context, id uuid.UUID, actor auth.Actor) ([]workflows.Action, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	item, err := s.loadVisible(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return s.machine.NextActions(item.Status, actor.Role, item.ApprovalRequired), nil
}

func (s *contentService) History(ctx context.Context, id uuid.UUID, actor auth.Actor) ([]StatusHistoryEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	item, err := s.loadVisible(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return item.StatusHistory, nil
}

// Feedback returns revision requests, newest first.
func (s *contentService) Feedback(ctx context.Context, id uuid.UUID, actor auth.Actor) ([]Feedback, error) {
	history, err := s.History(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	feedback := []Feedback{}
	for i := len(history) - 1; i >= 0; i-- {
		e := history[i]
		if e.Status != workflows.StatusRevisionsRequested {
			continue
		}
		fb := Feedback{Round: e.ReviewRound, RequestedBy: e.ChangedByName, RequestedAt: e.ChangedAt}
		if e.Note != nil {
			fb.Note = *e.Note
		}
		feedback = append(feedback, fb)
	}
	return feedback, nil
}

// =====================================================
// Consistency
// =====================================================

func (s *contentService) CheckConsistency(ctx context.Context, id uuid.UUID) (*ConsistencyReport, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	item, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	report := buildReport(item)
	if !report.Consistent {
		s.logger.Error("Content workflow state is inconsistent",
			zap.String("content_id", id.String()),
			zap.Int("stored_round", report.StoredRound),
			zap.Int("derived_round", report.DerivedRound),
			zap.Strings("problems", report.Problems),
		)
	}
	return report, nil
}

func buildReport(item *ContentItem) *ConsistencyReport {
	check := workflows.CheckRounds(item.ReviewRound, item.HistoryStatuses())
	report := &ConsistencyReport{
		ContentID:    item.ID,
		Status:       item.Status,
		StoredRound:  check.Stored,
		DerivedRound: check.Derived,
	}

	if last := item.LastEntry(); last != nil {
		status := last.Status
		report.LastHistoryStatus = &status
		if last.Status != item.Status {
			report.Problems = append(report.Problems,
				fmt.Sprintf("status %s does not match last history entry %s", item.Status, last.Status))
		}
	} else if item.Status != workflows.StatusDraft {
		report.Problems = append(report.Problems,
			fmt.Sprintf("status %s has no history", item.Status))
	}

	if !check.Consistent() {
		report.Problems = append(report.Problems,
			fmt.Sprintf("review round %d does not match %d revision requests in history", check.Stored, check.Derived))
	}

	for i, e := range item.StatusHistory {
		if e.Sequence != i+1 {
			report.Problems = append(report.Problems,
				fmt.Sprintf("history entry %d has sequence %d", i+1, e.Sequence))
			break
		}
	}

	report.Consistent = len(report.Problems) == 0
	return report
}

// RepairReviewRound resets the stored counter to the history-derived value.
// History and status are never rewritten.
func (s *contentService) RepairReviewRound(ctx context.Context, id uuid.UUID, actor auth.Actor) (*ConsistencyReport, error) {
	if !actor.IsProducer() {
		return nil, apperrors.Forbidden("only producers can repair content")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.repairRound(ctx, id, actor)
}

func (s *contentService) repairRound(ctx context.Context, id uuid.UUID, actor auth.Actor) (*ConsistencyReport, error) {
	item, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	report := buildReport(item)
	if report.StoredRound == report.DerivedRound {
		return report, nil
	}

	err = s.repo.SetReviewRound(ctx, id, item.Version, report.DerivedRound)
	switch {
	case errors.Is(err, ErrConflict):
		return nil, apperrors.Conflict("content changed during repair; run the check again").WithCause(err)
	case errors.Is(err, ErrNotFound):
		return nil, apperrors.NotFound("content", id.String())
	case err != nil:
		return nil, apperrors.StoreUnavailable(fmt.Errorf("failed to repair review round: %w", err))
	}

	s.logger.Warn("Review round repaired",
		zap.String("content_id", id.String()),
		zap.Int("stored_round", report.StoredRound),
		zap.Int("derived_round", report.DerivedRound),
		zap.String("actor_id", actor.ID),
	)

	item.ReviewRound = report.DerivedRound
	item.Version++
	return buildReport(item), nil
}

// AuditAll checks every stored item. With repair set, drifted review rounds
// are reset from history; other problems are only reported.
func (s *contentService) AuditAll(ctx context.Context, repair bool) (*AuditSummary, error) {
	summary := &AuditSummary{Inconsistent: []uuid.UUID{}, Repaired: []uuid.UUID{}}
	batch := s.opts.AuditBatch
	if batch <= 0 {
		batch = 200
	}

	var after *uuid.UUID
	for {
		ids, err := s.listIDs(ctx, after, batch)
		if err != nil {
			return summary, err
		}

		for _, id := range ids {
			report, err := s.CheckConsistency(ctx, id)
			if err != nil {
				if apperrors.IsNotFound(err) {
					continue
				}
				return summary, err
			}
			summary.Checked++
			if report.Consistent {
				continue
			}
			summary.Inconsistent = append(summary.Inconsistent, id)

			if repair && report.StoredRound != report.DerivedRound {
				if _, err := s.RepairReviewRound(ctx, id, auth.SystemActor()); err != nil {
					s.logger.Error("Failed to repair review round", zap.String("content_id", id.String()), zap.Error(err))
					continue
				}
				summary.Repaired = append(summary.Repaired, id)
			}
		}

		if len(ids) < batch {
			break
		}
		last := ids[len(ids)-1]
		after = &last
	}

	s.logger.Info("Consistency audit finished",
		zap.Int("checked", summary.Checked),
		zap.Int("inconsistent", len(summary.Inconsistent)),
		zap.Int("repaired", len(summary.Repaired)),
	)
	return summary, nil
}

func (s *contentService) listIDs(ctx context.Context, after *uuid.UUID, limit int) ([]uuid.UUID, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ids, err := s.repo.ListContentIDs(ctx, after, limit)
	if err != nil {
		return nil, apperrors.StoreUnavailable(fmt.Errorf("failed to list content ids: %w", err))
	}
	return ids, nil
}

// PublishDue publishes scheduled items whose publish time has passed, acting
// as the system. Items that moved on concurrently are skipped.
func (s *contentService) PublishDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	limit := s.opts.PublishBatch
	if limit <= 0 {
		limit = 100
	}

	listCtx, cancel := s.withTimeout(ctx)
	due, err := s.repo.ListDueForPublish(listCtx, now, limit)
	cancel()
	if err != nil {
		return nil, apperrors.StoreUnavailable(fmt.Errorf("failed to list scheduled content: %w", err))
	}

	published := []uuid.UUID{}
	for _, item := range due {
		_, err := s.Transition(ctx, item.ID, TransitionRequest{TargetStatus: workflows.StatusPublished}, auth.SystemActor())
		if err != nil {
			if apperrors.IsConflict(err) || apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition) {
				s.logger.Info("Skipped scheduled publish", zap.String("content_id", item.ID.String()), zap.Error(err))
				continue
			}
			return published, err
		}
		published = append(published, item.ID)
	}
	return published, nil
}

// =====================================================
// Loading
// =====================================================

func (s *contentService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.StoreTimeout)
}

// load reads an item, retrying transient store failures.
func (s *contentService) load(ctx context.Context, id uuid.UUID) (*ContentItem, error) {
	var lastErr error
	for attempt := 0; attempt <= s.opts.ReadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, apperrors.StoreUnavailable(fmt.Errorf("failed to load content %s: %w", id, ctx.Err()))
			case <-time.After(s.opts.RetryBackoff * time.Duration(attempt)):
			}
		}

		item, err := s.repo.GetContent(ctx, id)
		if err == nil {
			if item.StatusHistory == nil {
				item.StatusHistory = []StatusHistoryEntry{}
			}
			return item, nil
		}
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.NotFound("content", id.String())
		}
		lastErr = err
		s.logger.Warn("Content load failed",
			zap.String("content_id", id.String()),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return nil, apperrors.StoreUnavailable(fmt.Errorf("failed to load content %s: %w", id, lastErr))
}

// loadVisible hides other clients' items and drafts from client actors.
func (s *contentService) loadVisible(ctx context.Context, id uuid.UUID, actor auth.Actor) (*ContentItem, error) {
	item, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanSee(item.ClientID) || (!actor.IsProducer() && item.Status == workflows.StatusDraft) {
		return nil, apperrors.NotFound("content", id.String())
	}
	return item, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
