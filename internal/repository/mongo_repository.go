package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/gig_cart/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	cartsCollection     = "carts"
	lineItemsCollection = "cart_line_items"
)

// Money is stored as decimal strings so no precision is lost to BSON doubles.

type cartDocument struct {
	ID         string              `bson:"_id"`
	UserID     string              `bson:"user_id"`
	Status     string              `bson:"status"`
	CreatedAt  time.Time           `bson:"created_at"`
	UpdatedAt  time.Time           `bson:"updated_at"`
	Submission *submissionDocument `bson:"submission,omitempty"`
}

type eventDocument struct {
	Name     string `bson:"name,omitempty"`
	Date     string `bson:"date,omitempty"`
	Location string `bson:"location,omitempty"`
}

type lineItemDocument struct {
	ID             string         `bson:"_id"`
	CartID         string         `bson:"cart_id"`
	ProfessionalID string         `bson:"professional_id"`
	Mode           string         `bson:"mode"`
	Hours          int            `bson:"hours,omitempty"`
	UnitPrice      string         `bson:"unit_price"`
	Event          *eventDocument `bson:"event,omitempty"`
	AddedAt        time.Time      `bson:"added_at"`
}

type submissionDocument struct {
	Items       []lineItemDocument `bson:"items"`
	Subtotal    string             `bson:"subtotal"`
	Fee         string             `bson:"fee"`
	Total       string             `bson:"total"`
	SubmittedAt time.Time          `bson:"submitted_at"`
	Published   bool               `bson:"published"`
	PublishedAt *time.Time         `bson:"published_at,omitempty"`
}

func toLineItemDocument(item domain.CartLineItem) lineItemDocument {
	doc := lineItemDocument{
		ID:             item.ID,
		CartID:         item.CartID,
		ProfessionalID: item.ProfessionalID,
		Mode:           item.Mode.String(),
		Hours:          item.Hours,
		UnitPrice:      item.UnitPrice.String(),
		AddedAt:        item.AddedAt,
	}
	if item.Event != nil {
		doc.Event = &eventDocument{Name: item.Event.Name, Date: item.Event.Date, Location: item.Event.Location}
	}
	return doc
}

func (d lineItemDocument) toDomain() (domain.CartLineItem, error) {
	price, err := decimal.NewFromString(d.UnitPrice)
	if err != nil {
		return domain.CartLineItem{}, fmt.Errorf("line item %s has malformed unit price %q: %w", d.ID, d.UnitPrice, err)
	}
	item := domain.CartLineItem{
		ID:             d.ID,
		CartID:         d.CartID,
		ProfessionalID: d.ProfessionalID,
		Mode:           domain.BookingMode(d.Mode),
		Hours:          d.Hours,
		UnitPrice:      price,
		AddedAt:        d.AddedAt,
	}
	if d.Event != nil {
		item.Event = &domain.EventMeta{Name: d.Event.Name, Date: d.Event.Date, Location: d.Event.Location}
	}
	return item, nil
}

func (d *cartDocument) snapshot() (*domain.CartSnapshot, error) {
	sub := d.Submission
	snap := &domain.CartSnapshot{
		CartID:      d.ID,
		UserID:      d.UserID,
		Items:       make([]domain.CartLineItem, 0, len(sub.Items)),
		SubmittedAt: sub.SubmittedAt,
	}
	for _, doc := range sub.Items {
		item, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		snap.Items = append(snap.Items, item)
	}

	var err error
	if snap.Subtotal, err = decimal.NewFromString(sub.Subtotal); err != nil {
		return nil, fmt.Errorf("submission %s has malformed subtotal: %w", d.ID, err)
	}
	if snap.Fee, err = decimal.NewFromString(sub.Fee); err != nil {
		return nil, fmt.Errorf("submission %s has malformed fee: %w", d.ID, err)
	}
	if snap.Total, err = decimal.NewFromString(sub.Total); err != nil {
		return nil, fmt.Errorf("submission %s has malformed total: %w", d.ID, err)
	}
	return snap, nil
}

type mongoRepository struct {
	carts *mongo.Collection
	items *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) CartRepository {
	return &mongoRepository{
		carts: db.Collection(cartsCollection),
		items: db.Collection(lineItemsCollection),
	}
}

func (m *mongoRepository) GetOrCreateDraft(ctx context.Context, userID string) (*domain.Cart, error) {
	now := time.Now().UTC()
	filter := bson.M{"user_id": userID, "status": domain.CartStatusDraft.String()}
	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":        uuid.NewString(),
			"created_at": now,
			"updated_at": now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc cartDocument
	err := m.carts.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// A concurrent upsert created the draft first.
		err = m.carts.FindOne(ctx, filter).Decode(&doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get or create draft cart: %w", err)
	}

	return m.withItems(ctx, &doc)
}

func (m *mongoRepository) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	var doc cartDocument
	err := m.carts.FindOne(ctx, bson.M{"_id": cartID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return m.withItems(ctx, &doc)
}

func (m *mongoRepository) withItems(ctx context.Context, doc *cartDocument) (*domain.Cart, error) {
	opts := options.Find().SetSort(bson.D{{Key: "added_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := m.items.Find(ctx, bson.M{"cart_id": doc.ID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list line items: %w", err)
	}
	defer cursor.Close(ctx)

	var itemDocs []lineItemDocument
	if err := cursor.All(ctx, &itemDocs); err != nil {
		return nil, fmt.Errorf("failed to decode line items: %w", err)
	}

	cart := &domain.Cart{
		ID:        doc.ID,
		UserID:    doc.UserID,
		Status:    domain.CartStatus(doc.Status),
		Items:     make([]domain.CartLineItem, 0, len(itemDocs)),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	for _, itemDoc := range itemDocs {
		item, err := itemDoc.toDomain()
		if err != nil {
			return nil, err
		}
		cart.Items = append(cart.Items, item)
	}
	return cart, nil
}

func (m *mongoRepository) InsertLineItem(ctx context.Context, cartID string, item domain.CartLineItem) error {
	now := time.Now().UTC()

	if err := m.touchDraft(ctx, cartID); err != nil {
		return err
	}

	item.CartID = cartID
	if item.AddedAt.IsZero() {
		item.AddedAt = now
	}
	if _, err := m.items.InsertOne(ctx, toLineItemDocument(item)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateBooking
		}
		return fmt.Errorf("failed to insert line item: %w", err)
	}
	return nil
}

func (m *mongoRepository) DeleteLineItem(ctx context.Context, cartID, lineItemID string) error {
	if err := m.touchDraft(ctx, cartID); err != nil {
		return err
	}
	if _, err := m.items.DeleteOne(ctx, bson.M{"_id": lineItemID, "cart_id": cartID}); err != nil {
		return fmt.Errorf("failed to delete line item: %w", err)
	}
	return nil
}

func (m *mongoRepository) DeleteLineItems(ctx context.Context, cartID string) error {
	if err := m.touchDraft(ctx, cartID); err != nil {
		return err
	}
	if _, err := m.items.DeleteMany(ctx, bson.M{"cart_id": cartID}); err != nil {
		return fmt.Errorf("failed to delete line items: %w", err)
	}
	return nil
}

// touchDraft bumps updated_at and fails unless the cart is still a draft.
func (m *mongoRepository) touchDraft(ctx context.Context, cartID string) error {
	result, err := m.carts.UpdateOne(ctx,
		bson.M{"_id": cartID, "status": domain.CartStatusDraft.String()},
		bson.M{"$set": bson.M{"updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to touch cart: %w", err)
	}
	if result.MatchedCount == 0 {
		return m.notDraftError(ctx, cartID)
	}
	return nil
}

func (m *mongoRepository) Submit(ctx context.Context, cartID string, snapshot *domain.CartSnapshot) error {
	items := make([]lineItemDocument, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		items = append(items, toLineItemDocument(item))
	}

	filter := bson.M{"_id": cartID, "status": domain.CartStatusDraft.String()}
	update := bson.M{
		"$set": bson.M{
			"status":     domain.CartStatusSubmitted.String(),
			"updated_at": time.Now().UTC(),
			"submission": submissionDocument{
				Items:       items,
				Subtotal:    snapshot.Subtotal.String(),
				Fee:         snapshot.Fee.String(),
				Total:       snapshot.Total.String(),
				SubmittedAt: snapshot.SubmittedAt,
			},
		},
	}

	result, err := m.carts.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to submit cart: %w", err)
	}
	if result.MatchedCount == 0 {
		return m.notDraftError(ctx, cartID)
	}
	return nil
}

// notDraftError tells a missing cart apart from one that already left Draft.
func (m *mongoRepository) notDraftError(ctx context.Context, cartID string) error {
	count, err := m.carts.CountDocuments(ctx, bson.M{"_id": cartID})
	if err != nil {
		return fmt.Errorf("failed to look up cart: %w", err)
	}
	if count == 0 {
		return ErrCartNotFound
	}
	return domain.ErrInvalidState
}

func (m *mongoRepository) PendingSubmissions(ctx context.Context, limit int) ([]*domain.CartSnapshot, error) {
	filter := bson.M{
		"status":               domain.CartStatusSubmitted.String(),
		"submission.published": false,
	}
	opts := options.Find().SetSort(bson.D{{Key: "submission.submitted_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := m.carts.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending submissions: %w", err)
	}
	defer cursor.Close(ctx)

	snapshots := make([]*domain.CartSnapshot, 0)
	for cursor.Next(ctx) {
		var doc cartDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode submission: %w", err)
		}
		snap, err := doc.snapshot()
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return snapshots, nil
}

func (m *mongoRepository) MarkSubmissionPublished(ctx context.Context, cartID string) error {
	now := time.Now().UTC()
	result, err := m.carts.UpdateOne(ctx,
		bson.M{"_id": cartID, "submission": bson.M{"$exists": true}},
		bson.M{"$set": bson.M{"submission.published": true, "submission.published_at": now}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark submission published: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

// CreateIndexes installs the unique indexes the repository relies on.
func (m *mongoRepository) CreateIndexes(ctx context.Context) error {
	cartIndexes := []mongo.IndexModel{
		{
			// at most one draft per user
			Keys: bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": domain.CartStatusDraft.String()}).
				SetName("one_draft_per_user"),
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "submission.published", Value: 1},
				{Key: "submission.submitted_at", Value: 1},
			},
			Options: options.Index().SetName("pending_submissions"),
		},
	}
	if _, err := m.carts.Indexes().CreateMany(ctx, cartIndexes); err != nil {
		return fmt.Errorf("failed to create cart indexes: %w", err)
	}

	itemIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "cart_id", Value: 1}, {Key: "professional_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("one_booking_per_professional"),
		},
		{
			Keys:    bson.D{{Key: "cart_id", Value: 1}, {Key: "added_at", Value: 1}},
			Options: options.Index().SetName("cart_items_by_time"),
		},
	}
	if _, err := m.items.Indexes().CreateMany(ctx, itemIndexes); err != nil {
		return fmt.Errorf("failed to create line item indexes: %w", err)
	}
	return nil
}
