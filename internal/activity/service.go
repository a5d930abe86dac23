package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pyrus-portal/portal-backend/internal/activity/websocket"
	"pyrus-portal/portal-backend/internal/auth"
	"pyrus-portal/portal-backend/internal/content"
	"pyrus-portal/portal-backend/internal/events"
)

const (
	recorderQueue = "activity-recorder"
	defaultLimit  = 50
	maxLimit      = 200
)

type Service interface {
	// Record stores the activity for a transition event.
	Record(ctx context.Context, event *events.Event) error
	// Broadcast pushes a transition event to connected feed clients.
	Broadcast(ctx context.Context, event *events.Event) error
	List(ctx context.Context, filter ListFilter, actor auth.Actor) ([]Activity, error)
	// Subscribe wires the service to the bus. Recording uses a queue group
	// so each event is stored once across replicas; every replica
	// broadcasts to its own sockets.
	Subscribe(bus events.EventBus) ([]events.Subscription, error)
}

type activityService struct {
	repo   Repository
	feed   *websocket.Manager
	logger *zap.Logger
}

// NewService creates the activity service. feed may be nil for processes
// that record without serving sockets.
func NewService(repo Repository, feed *websocket.Manager, logger *zap.Logger) Service {
	return &activityService{repo: repo, feed: feed, logger: logger}
}

func fromEvent(event *events.Event) (*Activity, error) {
	var payload content.TransitionCompleted
	if err := event.Decode(&payload); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(event.ID)
	if err != nil {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(event.ID))
	}
	return &Activity{
		ID:          id,
		ContentID:   payload.ContentID,
		ClientID:    payload.ClientID,
		Title:       payload.Title,
		FromStatus:  payload.FromStatus,
		ToStatus:    payload.ToStatus,
		ReviewRound: payload.ReviewRound,
		ActorID:     payload.ActorID,
		ActorName:   payload.ActorName,
		ActorRole:   payload.ActorRole,
		Note:        payload.Note,
		OccurredAt:  payload.ChangedAt,
	}, nil
}

func (s *activityService) Record(ctx context.Context, event *events.Event) error {
	a, err := fromEvent(event)
	if err != nil {
		return err
	}
	if err := s.repo.Record(ctx, a); err != nil {
		s.logger.Error("Failed to record activity",
			zap.String("event_id", event.ID),
			zap.String("content_id", a.ContentID.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *activityService) Broadcast(ctx context.Context, event *events.Event) error {
	if s.feed == nil {
		return nil
	}
	a, err := fromEvent(event)
	if err != nil {
		return err
	}
	msg := websocket.Message{
		Type: websocket.MessageTypeActivity,
		Data: map[string]interface{}{
			"activity": a,
			"summary":  a.Summary(),
		},
		Timestamp: time.Now().UTC(),
	}
	if err := s.feed.Publish(a.ClientID, msg); err != nil {
		s.logger.Warn("Failed to broadcast activity", zap.String("event_id", event.ID), zap.Error(err))
		return err
	}
	return nil
}

func (s *activityService) List(ctx context.Context, filter ListFilter, actor auth.Actor) ([]Activity, error) {
	if !actor.IsProducer() {
		if actor.ClientID == nil {
			return []Activity{}, nil
		}
		filter.ClientID = actor.ClientID
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}

	out, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	return out, nil
}

func (s *activityService) Subscribe(bus events.EventBus) ([]events.Subscription, error) {
	record, err := bus.QueueSubscribe(content.SubjectTransitionCompleted, recorderQueue, s.Record)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe activity recorder: %w", err)
	}
	subs := []events.Subscription{record}
	if s.feed == nil {
		return subs, nil
	}

	broadcast, err := bus.Subscribe(content.SubjectTransitionCompleted, s.Broadcast)
	if err != nil {
		_ = record.Unsubscribe()
		return nil, fmt.Errorf("failed to subscribe activity broadcast: %w", err)
	}
	return append(subs, broadcast), nil
}
