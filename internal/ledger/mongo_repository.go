package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrReceiptNotFound  = errors.New("receipt not found")
	ErrDuplicateReceipt = errors.New("receipt for this session already exists")
)

type ReceiptRepository interface {
	SaveReceipt(ctx context.Context, receipt *Receipt) error
	GetReceipt(ctx context.Context, sessionID string) (*Receipt, error)
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("receipts"),
	}
}

// SaveReceipt inserts a receipt. Receipts are immutable, so a second write for the same
// session returns ErrDuplicateReceipt and leaves the stored one untouched.
func (m *MongoRepository) SaveReceipt(ctx context.Context, receipt *Receipt) error {
	_, err := m.collection.InsertOne(ctx, receipt)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateReceipt
	}
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

func (m *MongoRepository) GetReceipt(ctx context.Context, sessionID string) (*Receipt, error) {
	var receipt Receipt
	err := m.collection.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&receipt)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrReceiptNotFound
		}
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return &receipt, nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "retailer_id", Value: 1}, {Key: "paid_at", Value: -1}},
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}
