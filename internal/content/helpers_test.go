package content

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"pyrus-portal/portal-backend/internal/auth"
	"pyrus-portal/portal-backend/internal/events"
	"pyrus-portal/portal-backend/pkg/workflows"
)

// MockPublisher is a mock implementation of events.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, subject string, event *events.Event) error {
	args := m.Called(ctx, subject, event)
	return args.Error(0)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&ContentItem{}, &StatusHistoryEntry{}))
	return db
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.RetryBackoff = time.Millisecond
	return opts
}

type fixture struct {
	db       *gorm.DB
	repo     Repository
	service  Service
	producer auth.Actor
	client   auth.Actor
	clientID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := newTestDB(t)
	repo := NewRepository(db)
	clientID := uuid.New()

	return &fixture{
		db:       db,
		repo:     repo,
		service:  NewService(repo, nil, zap.NewNop(), testOptions()),
		producer: auth.Actor{ID: "producer-1", Name: "Pat Producer", Role: workflows.RoleProducer},
		client:   auth.Actor{ID: "client-1", Name: "Casey Client", Role: workflows.RoleClient, ClientID: &clientID},
		clientID: clientID,
	}
}

func (f *fixture) create(t *testing.T, approvalRequired bool) *ContentItem {
	t.Helper()
	item, err := f.service.CreateContent(context.Background(), CreateContentRequest{
		ClientID:         f.clientID,
		Title:            "Spring launch post",
		Body:             "Draft body",
		ContentType:      TypeBlogPost,
		ApprovalRequired: &approvalRequired,
	}, f.producer)
	require.NoError(t, err)
	return item
}

func (f *fixture) move(t *testing.T, id uuid.UUID, actor auth.Actor, target workflows.Status, note string) *ContentItem {
	t.Helper()
	item, err := f.service.Transition(context.Background(), id, TransitionRequest{TargetStatus: target, Note: note}, actor)
	require.NoError(t, err)
	f.requireInvariants(t, id)
	return item
}

// requireInvariants reloads the item from the store and checks the
// status/history/round relationships.
func (f *fixture) requireInvariants(t *testing.T, id uuid.UUID) {
	t.Helper()
	stored, err := f.repo.GetContent(context.Background(), id)
	require.NoError(t, err)

	if last := stored.LastEntry(); last != nil {
		require.Equal(t, last.Status, stored.Status, "status must equal last history entry")
	} else {
		require.Equal(t, workflows.StatusDraft, stored.Status)
	}
	require.Equal(t, workflows.CountRevisionRounds(stored.HistoryStatuses()), stored.ReviewRound)
	for i, e := range stored.StatusHistory {
		require.Equal(t, i+1, e.Sequence)
	}
}

// barrierRepository holds the first n loads until all of them have read, so
// concurrent callers observe the same state before anyone writes.
type barrierRepository struct {
	Repository
	mu        sync.Mutex
	remaining int
	release   chan struct{}
}

func newBarrierRepository(inner Repository, n int) *barrierRepository {
	return &barrierRepository{Repository: inner, remaining: n, release: make(chan struct{})}
}

func (r *barrierRepository) GetContent(ctx context.Context, id uuid.UUID) (*ContentItem, error) {
	item, err := r.Repository.GetContent(ctx, id)

	r.mu.Lock()
	if r.remaining == 0 {
		r.mu.Unlock()
		return item, err
	}
	r.remaining--
	if r.remaining == 0 {
		close(r.release)
	}
	r.mu.Unlock()

	<-r.release
	return item, err
}

// flakyRepository fails a configurable number of loads and every write.
type flakyRepository struct {
	Repository
	mu         sync.Mutex
	loadFails  int
	loads      int
	writeError error
}

func (r *flakyRepository) GetContent(ctx context.Context, id uuid.UUID) (*ContentItem, error) {
	r.mu.Lock()
	r.loads++
	fail := r.loads <= r.loadFails
	r.mu.Unlock()
	if fail {
		return nil, context.DeadlineExceeded
	}
	return r.Repository.GetContent(ctx, id)
}

func (r *flakyRepository) ApplyTransition(ctx context.Context, w TransitionWrite) error {
	if r.writeError != nil {
		return r.writeError
	}
	return r.Repository.ApplyTransition(ctx, w)
}
