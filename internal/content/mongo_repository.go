package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/datatypes"

	"pyrus-portal/portal-backend/pkg/workflows"
)

// mongoRepository keeps each item as one document with its history embedded,
// so a transition is a single atomic update.
type mongoRepository struct {
	items *mongo.Collection
}

type contentDocument struct {
	ID               string            `bson:"_id"`
	ClientID         string            `bson:"client_id"`
	Title            string            `bson:"title"`
	Body             string            `bson:"body"`
	ContentType      string            `bson:"content_type"`
	Channel          string            `bson:"channel,omitempty"`
	Metadata         []byte            `bson:"metadata,omitempty"`
	Status           string            `bson:"status"`
	ApprovalRequired bool              `bson:"approval_required"`
	ReviewRound      int               `bson:"review_round"`
	Version          int               `bson:"version"`
	StatusChangedAt  time.Time         `bson:"status_changed_at"`
	PublishAt        *time.Time        `bson:"publish_at"`
	CreatedByID      string            `bson:"created_by_id"`
	CreatedAt        time.Time         `bson:"created_at"`
	UpdatedAt        time.Time         `bson:"updated_at"`
	StatusHistory    []historyDocument `bson:"status_history"`
}

type historyDocument struct {
	ID            string    `bson:"id"`
	Sequence      int       `bson:"sequence"`
	FromStatus    string    `bson:"from_status"`
	Status        string    `bson:"status"`
	ChangedAt     time.Time `bson:"changed_at"`
	ChangedByID   *string   `bson:"changed_by_id"`
	ChangedByName *string   `bson:"changed_by_name"`
	ChangedByRole string    `bson:"changed_by_role"`
	Note          *string   `bson:"note,omitempty"`
	ReviewRound   int       `bson:"review_round"`
}

// NewMongoRepository returns the document store. collName defaults to
// "content_items".
func NewMongoRepository(client *mongo.Client, dbName, collName string) Repository {
	if collName == "" {
		collName = "content_items"
	}
	return &mongoRepository{items: client.Database(dbName).Collection(collName)}
}

// EnsureMongoIndexes creates the secondary indexes used by listings and workers.
func EnsureMongoIndexes(ctx context.Context, client *mongo.Client, dbName, collName string) error {
	if collName == "" {
		collName = "content_items"
	}
	_, err := client.Database(dbName).Collection(collName).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "status_changed_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "publish_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create content indexes: %w", err)
	}
	return nil
}

func toDocument(item *ContentItem) contentDocument {
	doc := contentDocument{
		ID:               item.ID.String(),
		ClientID:         item.ClientID.String(),
		Title:            item.Title,
		Body:             item.Body,
		ContentType:      string(item.ContentType),
		Channel:          item.Channel,
		Metadata:         item.Metadata,
		Status:           item.Status.String(),
		ApprovalRequired: item.ApprovalRequired,
		ReviewRound:      item.ReviewRound,
		Version:          item.Version,
		StatusChangedAt:  item.StatusChangedAt,
		PublishAt:        item.PublishAt,
		CreatedByID:      item.CreatedByID,
		CreatedAt:        item.CreatedAt,
		UpdatedAt:        item.UpdatedAt,
		StatusHistory:    []historyDocument{},
	}
	for i := range item.StatusHistory {
		doc.StatusHistory = append(doc.StatusHistory, toHistoryDocument(&item.StatusHistory[i]))
	}
	return doc
}

func toHistoryDocument(e *StatusHistoryEntry) historyDocument {
	return historyDocument{
		ID:            e.ID.String(),
		Sequence:      e.Sequence,
		FromStatus:    e.FromStatus.String(),
		Status:        e.Status.String(),
		ChangedAt:     e.ChangedAt,
		ChangedByID:   e.ChangedByID,
		ChangedByName: e.ChangedByName,
		ChangedByRole: e.ChangedByRole.String(),
		Note:          e.Note,
		ReviewRound:   e.ReviewRound,
	}
}

func (d *contentDocument) toItem() (*ContentItem, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("bad content id %q: %w", d.ID, err)
	}
	clientID, err := uuid.Parse(d.ClientID)
	if err != nil {
		return nil, fmt.Errorf("bad client id on %s: %w", d.ID, err)
	}
	status, err := workflows.ParseStatus(d.Status)
	if err != nil {
		return nil, err
	}

	item := &ContentItem{
		ID:               id,
		ClientID:         clientID,
		Title:            d.Title,
		Body:             d.Body,
		ContentType:      ContentType(d.ContentType),
		Channel:          d.Channel,
		Metadata:         datatypes.JSON(d.Metadata),
		Status:           status,
		ApprovalRequired: d.ApprovalRequired,
		ReviewRound:      d.ReviewRound,
		Version:          d.Version,
		StatusChangedAt:  d.StatusChangedAt,
		PublishAt:        d.PublishAt,
		CreatedByID:      d.CreatedByID,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	for _, h := range d.StatusHistory {
		entry, err := h.toEntry(id)
		if err != nil {
			return nil, err
		}
		item.StatusHistory = append(item.StatusHistory, *entry)
	}
	return item, nil
}

func (h *historyDocument) toEntry(contentID uuid.UUID) (*StatusHistoryEntry, error) {
	id, err := uuid.Parse(h.ID)
	if err != nil {
		return nil, fmt.Errorf("bad history id %q: %w", h.ID, err)
	}
	from, err := workflows.ParseStatus(h.FromStatus)
	if err != nil {
		return nil, err
	}
	to, err := workflows.ParseStatus(h.Status)
	if err != nil {
		return nil, err
	}
	role, err := workflows.ParseRole(h.ChangedByRole)
	if err != nil {
		return nil, err
	}
	return &StatusHistoryEntry{
		ID:            id,
		ContentID:     contentID,
		Sequence:      h.Sequence,
		FromStatus:    from,
		Status:        to,
		ChangedAt:     h.ChangedAt,
		ChangedByID:   h.ChangedByID,
		ChangedByName: h.ChangedByName,
		ChangedByRole: role,
		Note:          h.Note,
		ReviewRound:   h.ReviewRound,
	}, nil
}

func (r *mongoRepository) CreateContent(ctx context.Context, item *ContentItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	_, err := r.items.InsertOne(ctx, toDocument(item))
	return err
}

func (r *mongoRepository) GetContent(ctx context.Context, id uuid.UUID) (*ContentItem, error) {
	var doc contentDocument
	err := r.items.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toItem()
}

func (r *mongoRepository) ListContent(ctx context.Context, filter ListFilter) ([]ContentItem, int64, error) {
	query := bson.M{}
	if filter.ClientID != nil {
		query["client_id"] = filter.ClientID.String()
	}
	statusCond := bson.M{}
	if filter.Status != nil {
		statusCond["$eq"] = filter.Status.String()
	}
	if filter.ExcludeDraft {
		statusCond["$ne"] = workflows.StatusDraft.String()
	}
	if len(statusCond) > 0 {
		query["status"] = statusCond
	}
	if filter.ContentType != nil {
		query["content_type"] = string(*filter.ContentType)
	}

	total, err := r.items.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "status_changed_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetProjection(bson.M{"status_history": 0})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit)).SetSkip(int64(filter.Offset))
	}

	items, err := r.find(ctx, query, opts)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *mongoRepository) find(ctx context.Context, query bson.M, opts *options.FindOptions) ([]ContentItem, error) {
	cur, err := r.items.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var items []ContentItem
	for cur.Next(ctx) {
		var doc contentDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		item, err := doc.toItem()
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, cur.Err()
}

func (r *mongoRepository) UpdatePayload(ctx context.Context, id uuid.UUID, editableIn []workflows.Status, update PayloadUpdate) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	if update.Title != nil {
		set["title"] = *update.Title
	}
	if update.Body != nil {
		set["body"] = *update.Body
	}
	if update.Channel != nil {
		set["channel"] = *update.Channel
	}
	if update.Metadata != nil {
		set["metadata"] = []byte(update.Metadata)
	}
	if update.PublishAt != nil {
		set["publish_at"] = update.PublishAt.UTC()
	} else if update.ClearPublishAt {
		set["publish_at"] = nil
	}

	statuses := make([]string, len(editableIn))
	for i, s := range editableIn {
		statuses[i] = s.String()
	}

	res, err := r.items.UpdateOne(ctx,
		bson.M{"_id": id.String(), "status": bson.M{"$in": statuses}},
		bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return r.missingOr(ctx, id, ErrNotEditable)
	}
	return nil
}

func (r *mongoRepository) ApplyTransition(ctx context.Context, w TransitionWrite) error {
	filter := bson.M{
		"_id":     w.ContentID.String(),
		"status":  w.ExpectedStatus.String(),
		"version": w.ExpectedVersion,
		// guards against a duplicate sequence the way the relational unique index does
		"status_history.sequence": bson.M{"$ne": w.Entry.Sequence},
	}
	update := bson.M{
		"$set": bson.M{
			"status":            w.Entry.Status.String(),
			"review_round":      w.ReviewRound,
			"status_changed_at": w.Entry.ChangedAt,
			"updated_at":        w.Entry.ChangedAt,
		},
		"$inc":  bson.M{"version": 1},
		"$push": bson.M{"status_history": toHistoryDocument(w.Entry)},
	}

	res, err := r.items.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to apply transition: %w", err)
	}
	if res.MatchedCount == 0 {
		return r.missingOr(ctx, w.ContentID, ErrConflict)
	}
	return nil
}

func (r *mongoRepository) ListHistory(ctx context.Context, id uuid.UUID) ([]StatusHistoryEntry, error) {
	item, err := r.GetContent(ctx, id)
	if err != nil {
		return nil, err
	}
	return item.StatusHistory, nil
}

func (r *mongoRepository) SetReviewRound(ctx context.Context, id uuid.UUID, expectedVersion, round int) error {
	res, err := r.items.UpdateOne(ctx,
		bson.M{"_id": id.String(), "version": expectedVersion},
		bson.M{
			"$set": bson.M{"review_round": round, "updated_at": time.Now().UTC()},
			"$inc": bson.M{"version": 1},
		})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return r.missingOr(ctx, id, ErrConflict)
	}
	return nil
}

func (r *mongoRepository) ListDueForPublish(ctx context.Context, now time.Time, limit int) ([]ContentItem, error) {
	query := bson.M{
		"publish_at": bson.M{"$ne": nil, "$lte": now.UTC()},
		"$or": bson.A{
			bson.M{"status": workflows.StatusApproved.String()},
			bson.M{"status": workflows.StatusSentForReview.String(), "approval_required": false},
		},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "publish_at", Value: 1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"status_history": 0})
	return r.find(ctx, query, opts)
}

func (r *mongoRepository) ListContentIDs(ctx context.Context, after *uuid.UUID, limit int) ([]uuid.UUID, error) {
	query := bson.M{}
	if after != nil {
		query["_id"] = bson.M{"$gt": after.String()}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"_id": 1})

	cur, err := r.items.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []uuid.UUID
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, cur.Err()
}

func (r *mongoRepository) missingOr(ctx context.Context, id uuid.UUID, otherwise error) error {
	count, err := r.items.CountDocuments(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return otherwise
}
