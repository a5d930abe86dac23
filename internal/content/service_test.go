package content

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pyrus-portal/portal-backend/internal/auth"
	apperrors "pyrus-portal/portal-backend/internal/common/errors"
	"pyrus-portal/portal-backend/internal/events"
	"pyrus-portal/portal-backend/pkg/workflows"
)

func TestCreateContent(t *testing.T) {
	f := newFixture(t)
	item := f.create(t, true)

	assert.Equal(t, workflows.StatusDraft, item.Status)
	assert.Equal(t, 0, item.ReviewRound)
	assert.Equal(t, 1, item.Version)
	assert.True(t, item.ApprovalRequired)
	assert.Empty(t, item.StatusHistory)
	f.requireInvariants(t, item.ID)

	_, err := f.service.CreateContent(context.Background(), CreateContentRequest{
		ClientID: f.clientID, Title: "x", ContentType: TypeAdCopy,
	}, f.client)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	_, err = f.service.CreateContent(context.Background(), CreateContentRequest{
		ClientID: f.clientID, Title: "x", ContentType: "newsletter",
	}, f.producer)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationError))
}

func TestTransition_RevisionLoopToPublished(t *testing.T) {
	f := newFixture(t)
	item := f.create(t, true)

	item = f.move(t, item.ID, f.producer, workflows.StatusSentForReview, "")
	assert.Equal(t, workflows.StatusSentForReview, item.Status)
	assert.Len(t, item.StatusHistory, 1)

	item = f.move(t, item.ID, f.client, workflows.StatusClientReviewing, "")
	assert.Equal(t, workflows.StatusClientReviewing, item.Status)

	item = f.move(t, item.ID, f.client, workflows.StatusRevisionsRequested, "fix the headline")
	assert.Equal(t, workflows.StatusRevisionsRequested, item.Status)
	assert.Equal(t, 1, item.ReviewRound)
	require.Len(t, item.StatusHistory, 3)
	last := item.LastEntry()
	require.NotNil(t, last.Note)
	assert.Equal(t, "fix the headline", *last.Note)
	require.NotNil(t, last.ChangedByID)
	assert.Equal(t, "client-1", *last.ChangedByID)
	assert.Equal(t, "Casey Client", *last.ChangedByName)

	item = f.move(t, item.ID, f.producer, workflows.StatusSentForReview, "")
	assert.Equal(t, workflows.StatusSentForReview, item.Status)
	assert.Equal(t, 1, item.ReviewRound)
	assert.Len(t, item.StatusHistory, 4)

	item = f.move(t, item.ID, f.client, workflows.StatusClientReviewing, "")
	assert.Equal(t, workflows.StatusClientReviewing, item.Status)

	item = f.move(t, item.ID, f.client, workflows.StatusApproved, "")
	assert.Equal(t, workflows.StatusApproved, item.Status)
	assert.Len(t, item.StatusHistory, 6)

	item = f.move(t, item.ID, f.producer, workflows.StatusPublished, "")
	assert.Equal(t, workflows.StatusPublished, item.Status)
	assert.Len(t, item.StatusHistory, 7)

	stored, err := f.service.GetContent(context.Background(), item.ID, f.producer)
	require.NoError(t, err)
	assert.Equal(t, item.Version, stored.Version)
	assert.Equal(t, 8, stored.Version)
	assert.Equal(t, []workflows.Status{
		workflows.StatusSentForReview, workflows.StatusClientReviewing, workflows.StatusRevisionsRequested,
		workflows.StatusSentForReview, workflows.StatusClientReviewing, workflows.StatusApproved,
		workflows.StatusPublished,
	}, stored.HistoryStatuses())
}

func TestTransition_ClientPublishesWithoutApproval(t *testing.T) {
	f := newFixture(t)
	item := f.create(t, false)

	f.move(t, item.ID, f.producer, workflows.StatusSentForReview, "")
	f.move(t, item.ID, f.client, workflows.StatusClientReviewing, "")

	_, err := f.service.Transition(context.Background(), item.ID,
		TransitionRequest{TargetStatus: workflows.StatusApproved}, f.client)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))

	item = f.move(t, item.ID, f.client, workflows.StatusPublished, "")
	assert.Equal(t, workflows.StatusPublished, item.Status)
	assert.NotContains(t, item.HistoryStatuses(), workflows.StatusApproved)
}

func TestTransition_PublishedIsTerminal(t *testing.T) {
	f := newFixture(t)
	item := f.create(t, false)
	f.move(t, item.ID, f.producer, workflows.StatusSentForReview, "")
	f.move(t, item.ID, f.producer, workflows.StatusPublished, "")

	for _, actor := range []auth.Actor{f.producer, f.client} {
		for _, target := range workflows.Statuses() {
			_, err := f.service.Transition(context.Background(), item.ID,
				TransitionRequest{TargetStatus: target, Note: "again"}, actor)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition), "%s by %s", target, actor.Role)
		}
	}

	history, err := f.repo.ListHistory(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestTransition_MissingNoteIsNeverPersisted(t *testing.T) {
	f := newFixture(t)
	item := f.create(t, true)
	f.move(t, item.ID, f.producer, workflows.StatusSentForReview, "")
	f.move(t, item.ID, f.client, workflows.StatusClientReviewing, "")

	_, err := f.service.Transition(context.Background(), item.ID,
		TransitionRequest{TargetStatus: workflows.StatusRevisionsRequested, Note: "   "}, f.client)
	require.Error(t, err)

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeValidationError, appErr.Code)
	assert.Equal(t, "note", appErr.Field)
	assert.True(t, errors.Is(err, workflows.ErrMissingNote))

	stored, err := f.repo.GetContent(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusClientReviewing, stored.Status)
	assert.Len(t, stored.StatusHistory, 2)
	assert.Equal(t, 0, stored.ReviewRound)
}

func TestTransition_InvalidTransitionOffersLegalActions(t *testing.T) {
	f := newFixture(t)
	item := f.create(t, true)
	f.move(t, item.ID, f.producer, workflows.StatusSentForReview, "")

	_, err := f.service.Transition(context.Background(), item.ID,
		TransitionRequest{TargetStatus: workflows.StatusApproved}, f.client)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeInvalidTransition, appErr.Code)
	assert.Equal(t, workflows.StatusSentForReview, appErr.Details["current_status"])

	actions, ok := appErr.Details["available_actions"].([]workflows.Action)
	require.True(t, ok)
	require.Len(t, actions, 1)
	assert.Equal(t, workflows.ActionBeginReview, actions[0].Action)
}

func TestTransition_ClientCannotSeeDraftOrOtherClients(t *testing.T) {
	f := newFixture(t)
	item := f.create(t, true)

	for _, target := range workflows.Statuses() {
		_, err := f.service.Transition(context.Background(), item.ID,
			TransitionRequest{TargetStatus: target}, f.client)
		assert.True(t, apperrors.IsNotFound(err))
	}

	f.move(t, item.ID, f.producer, workflows.StatusSentForReview, "")
	otherClientID := uuid.New()
	stranger := auth.Actor{ID: "client-2", Role: workflows.RoleClient, ClientID: &otherClientID}
	_, err := f.service.GetContent(context.Background(), item.ID, stranger)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.service.GetContent(context.Background(), item.ID, f.client)
	assert.NoError(t, err)
}

func TestTransition_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Transition(context.Background(), uuid.New(),
		TransitionRequest{TargetStatus: workflows.StatusSentForReview}, f.producer)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, 404, apperrors.GetHTTPStatus(err))
}

func TestTransition_ConcurrentWritersOneWins(t *testing.T) {
	f := newFixture(t)
	item := f.create(t, true)
	f.move(t, item.ID, f.producer, workflows.StatusSentForReview, "")
	f.move(t, item.ID, f.client, workflows.StatusClientReviewing, "")

	svc := NewService(newBarrierRepository(f.repo, 2), nil, zap.NewNop(), testOptions())
	requests := []TransitionRequest{
		{TargetStatus: workflows.StatusApproved},
		{TargetStatus: workflows.StatusRevisionsRequested, Note: "tone is off"},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(requests))
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req TransitionRequest) {
			defer wg.Done()
			_, errs[i] = svc.Transition(context.Background(), item.ID, req, f.client)
		}(i, req)
	}
	wg.Wait()

	succeeded, conflicted := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperrors.IsConflict(err):
			conflicted++
			appErr, _ := apperrors.As(err)
			assert.Contains(t, appErr.Details, "current_status")
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)

	f.requireInvariants(t, item.ID)
	stored, err := f.repo.GetContent(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Len(t, stored.StatusHistory, 3)
}

func TestTransition_StaleVersionConflicts(t *testing.T) {
	f := newFixture(t)
	item := f.create(t, true)

	stale, err := f.repo.GetContent(context.Background(), item.ID)
	require.NoError(t, err)
	f.move(t, item.ID, f.producer, workflows.StatusSentForReview, "")

	err = f.repo.ApplyTransition(context.Background(), TransitionWrite{
		ContentID:       stale.ID,
		ExpectedStatus:  stale.Status,
		ExpectedVersion: stale.Version,
		ReviewRound:     0,
		Entry: &StatusHistoryEntry{
			ContentID: stale.ID, Sequence: 1, FromStatus: workflows.StatusDraft,
			Status: workflows.StatusSentForReview, ChangedAt: time.Now().UTC(),
			ChangedByRole: workflows.RoleProducer,
		},
	})
	assert.ErrorIs(t, err, ErrConflict)
	f.requireInvariants(t, item.ID)
}

func TestTransition_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	item := f.create(t, true)

	flaky := &flakyRepository{Repository: f.repo, writeError: errors.New("connection reset")}
	svc := NewService(flaky, nil, zap.NewNop(), testOptions())

	_, err := svc.Transition(context.Background(), item.ID,
		TransitionRequest{TargetStatus: workflows.StatusSentForReview}, f.producer)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeStoreUnavailable, appErr.Code)
	assert.True(t, appErr.Retryable)
	assert.Equal(t, 503, appErr.HTTPStatus)

	f.requireInvariants(t, item.ID)
}

func TestTransition_RetriesIdempotentLoads(t *testing.T) {
	f := newFixture(t)
	item := f.create(t, true)

	flaky := &flakyRepository{Repository: f.repo, loadFails: 2}
	svc := NewService(flaky, nil, zap.NewNop(), testOptions())

	updated, err := svc.Transition(context.Background(), item.ID,
		TransitionRequest{TargetStatus: workflows.StatusSentForReview}, f.producer)
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusSentForReview, updated.Status)
	assert.Equal(t, 3, flaky.loads)

	exhausted := &flakyRepository{Repository: f.repo, loadFails: 10}
	svc = NewService(exhausted, nil, zap.NewNop(), testOptions())
	_, err = svc.GetContent(context.Background(), item.ID, f.producer)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStoreUnavailable))
	assert.Equal(t, 3, exhausted.loads)
}

func TestTransition_PublishesEvent(t *testing.T) {
	f := newFixture(t)
	item := f.create(t, true)

	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, SubjectTransitionCompleted, mock.AnythingOfType("*events.Event")).Return(nil).Once()
	svc := NewService(f.repo, publisher, zap.NewNop(), testOptions())

	_, err := svc.Transition(context.Background(), item.ID,
		TransitionRequest{TargetStatus: workflows.StatusSentForReview}, f.producer)
	require.NoError(t, err)
	publisher.AssertExpectations(t)

	call := publisher.Calls[0]
	var payload TransitionCompleted
	require.NoError(t, call.Arguments.Get(2).(*events.Event).Decode(&payload))
	assert.Equal(t, item.ID, payload.ContentID)
	assert.Equal(t, workflows.StatusDraft, payload.FromStatus)
	assert.Equal(t, workflows.StatusSentForReview, payload.ToStatus)
}

func TestTransition_EventFailureKeepsTransition(t *testing.T) {
	f := newFixture(t)
	item := f.create(t, true)

	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("bus down"))
	svc := NewService(f.repo, publisher, zap.NewNop(), testOptions())

	updated, err := svc.Transition(context.Background(), item.ID,
		TransitionRequest{TargetStatus: workflows.StatusSentForReview}, f.producer)
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusSentForReview, updated.Status)
	f.requireInvariants(t, item.ID)
}

func TestAvailableActions(t *testing.T) {
	f := newFixture(t)
	item := f.create(t, true)
	f.move(t, item.ID, f.producer, workflows.StatusSentForReview, "")
	f.move(t, item.ID, f.client, workflows.StatusClientReviewing, "")

	actions, err := f.service.AvailableActions(context.Background(), item.ID, f.client)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, workflows.ActionApprove, actions[0].Action)
	assert.Equal(t, workflows.ActionRequestRevisions, actions[1].Action)

	actions, err = f.service.AvailableActions(context.Background(), item.ID, f.producer)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestFeedback_NewestFirst(t *testing.T) {
	f := newFixture(t)
	item := f.create(t, true)

	for _, note := range []string{"fix the headline", "shorter intro please"} {
		f.move(t, item.ID, f.producer, workflows.StatusSentForReview, "")
		f.move(t, item.ID, f.client, workflows.StatusClientReviewing, "")
		f.move(t, item.ID, f.client, workflows.StatusRevisionsRequested, note)
	}

	feedback, err := f.service.Feedback(context.Background(), item.ID, f.producer)
	require.NoError(t, err)
	require.Len(t, feedback, 2)
	assert.Equal(t, "shorter intro please", feedback[0].Note)
	assert.Equal(t, 2, feedback[0].Round)
	assert.Equal(t, "fix the headline", feedback[1].Note)
	assert.Equal(t, 1, feedback[1].Round)
}

func TestUpdateContent_OnlyWhileAuthoring(t *testing.T) {
	f := newFixture(t)
	item := f.create(t, true)

	title := "Spring launch post v2"
	updated, err := f.service.UpdateContent(context.Background(), item.ID, UpdateContentRequest{Title: &title}, f.producer)
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Equal(t, 1, updated.Version)

	f.move(t, item.ID, f.producer, workflows.StatusSentForReview, "")
	_, err = f.service.UpdateContent(context.Background(), item.ID, UpdateContentRequest{Title: &title}, f.producer)
	assert.True(t, apperrors.IsConflict(err))

	_, err = f.service.UpdateContent(context.Background(), item.ID, UpdateContentRequest{Title: &title}, f.client)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	_, err = f.service.UpdateContent(context.Background(), uuid.New(), UpdateContentRequest{Title: &title}, f.producer)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestListContent_ClientScope(t *testing.T) {
	f := newFixture(t)
	draft := f.create(t, true)
	sent := f.create(t, true)
	f.move(t, sent.ID, f.producer, workflows.StatusSentForReview, "")

	otherClient := uuid.New()
	_, err := f.service.CreateContent(context.Background(), CreateContentRequest{
		ClientID: otherClient, Title: "Other", ContentType: TypeSocialPost,
	}, f.producer)
	require.NoError(t, err)

	all, err := f.service.ListContent(context.Background(), ListRequest{}, f.producer)
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.Total)

	mine, err := f.service.ListContent(context.Background(), ListRequest{}, f.client)
	require.NoError(t, err)
	require.Len(t, mine.Items, 1)
	assert.Equal(t, sent.ID, mine.Items[0].ID)

	draftStatus := workflows.StatusDraft
	drafts, err := f.service.ListContent(context.Background(), ListRequest{Status: &draftStatus}, f.client)
	require.NoError(t, err)
	assert.Empty(t, drafts.Items)

	drafts, err = f.service.ListContent(context.Background(), ListRequest{Status: &draftStatus, ClientID: &f.clientID}, f.producer)
	require.NoError(t, err)
	require.Len(t, drafts.Items, 1)
	assert.Equal(t, draft.ID, drafts.Items[0].ID)
}

func TestConsistency_DetectAndRepairDrift(t *testing.T) {
	f := newFixture(t)
	item := f.create(t, true)
	f.move(t, item.ID, f.producer, workflows.StatusSentForReview, "")
	f.move(t, item.ID, f.client, workflows.StatusClientReviewing, "")
	f.move(t, item.ID, f.client, workflows.StatusRevisionsRequested, "fix the headline")

	report, err := f.service.CheckConsistency(context.Background(), item.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)

	require.NoError(t, f.db.Model(&ContentItem{}).Where("id = ?", item.ID).Update("review_round", 4).Error)

	report, err = f.service.CheckConsistency(context.Background(), item.ID)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.Equal(t, 4, report.StoredRound)
	assert.Equal(t, 1, report.DerivedRound)

	_, err = f.service.RepairReviewRound(context.Background(), item.ID, f.client)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	report, err = f.service.RepairReviewRound(context.Background(), item.ID, f.producer)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	f.requireInvariants(t, item.ID)

	// the repair bumped the version, so the next transition must read fresh state
	f.move(t, item.ID, f.producer, workflows.StatusSentForReview, "")
}

func TestConsistency_StatusWithoutHistory(t *testing.T) {
	f := newFixture(t)
	item := f.create(t, true)
	require.NoError(t, f.db.Model(&ContentItem{}).Where("id = ?", item.ID).
		Update("status", workflows.StatusApproved).Error)

	report, err := f.service.CheckConsistency(context.Background(), item.ID)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.Len(t, report.Problems, 1)
}

func TestAuditAll(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.repo, nil, zap.NewNop(), Options{ReadRetries: 0, AuditBatch: 2})

	var drifted uuid.UUID
	for i := 0; i < 5; i++ {
		item := f.create(t, true)
		f.move(t, item.ID, f.producer, workflows.StatusSentForReview, "")
		if i == 3 {
			drifted = item.ID
		}
	}
	require.NoError(t, f.db.Model(&ContentItem{}).Where("id = ?", drifted).Update("review_round", 2).Error)

	summary, err := svc.AuditAll(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Checked)
	assert.Equal(t, []uuid.UUID{drifted}, summary.Inconsistent)
	assert.Empty(t, summary.Repaired)

	summary, err = svc.AuditAll(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{drifted}, summary.Repaired)

	summary, err = svc.AuditAll(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, summary.Inconsistent)
}

func TestPublishDue(t *testing.T) {
	f := newFixture(t)
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	approved := f.create(t, true)
	f.move(t, approved.ID, f.producer, workflows.StatusSentForReview, "")
	f.move(t, approved.ID, f.client, workflows.StatusClientReviewing, "")
	f.move(t, approved.ID, f.client, workflows.StatusApproved, "")

	autoPublish := f.create(t, false)
	f.move(t, autoPublish.ID, f.producer, workflows.StatusSentForReview, "")

	reviewing := f.create(t, true)
	f.move(t, reviewing.ID, f.producer, workflows.StatusSentForReview, "")

	later := f.create(t, true)
	f.move(t, later.ID, f.producer, workflows.StatusSentForReview, "")
	f.move(t, later.ID, f.client, workflows.StatusClientReviewing, "")
	f.move(t, later.ID, f.client, workflows.StatusApproved, "")

	for id, at := range map[uuid.UUID]time.Time{approved.ID: past, autoPublish.ID: past, reviewing.ID: past, later.ID: future} {
		at := at
		require.NoError(t, f.repo.UpdatePayload(context.Background(), id, workflows.Statuses(), PayloadUpdate{PublishAt: &at}))
	}

	published, err := f.service.PublishDue(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{approved.ID, autoPublish.ID}, published)

	stored, err := f.repo.GetContent(context.Background(), approved.ID)
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusPublished, stored.Status)
	last := stored.LastEntry()
	assert.Nil(t, last.ChangedByID)
	assert.Equal(t, workflows.RoleProducer, last.ChangedByRole)
	f.requireInvariants(t, approved.ID)

	stored, err = f.repo.GetContent(context.Background(), reviewing.ID)
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusSentForReview, stored.Status)
}

func TestHistory_IsAppendOnly(t *testing.T) {
	f := newFixture(t)
	item := f.create(t, true)
	f.move(t, item.ID, f.producer, workflows.StatusSentForReview, "")

	history, err := f.repo.ListHistory(context.Background(), item.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)

	entry := history[0]
	assert.ErrorIs(t, f.db.Delete(&entry).Error, ErrHistoryImmutable)
	assert.ErrorIs(t, f.db.Model(&entry).Update("note", "rewritten").Error, ErrHistoryImmutable)

	history, err = f.repo.ListHistory(context.Background(), item.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Nil(t, history[0].Note)
}
