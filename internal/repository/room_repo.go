package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"quizrooms/internal/apperr"
	"quizrooms/internal/model"
)

// RoomRepo stores room documents in MongoDB. It offers the same contract
// as the Redis room cache, with the version field as the CAS stamp.
type RoomRepo interface {
	Create(ctx context.Context, room *model.Room) error
	Get(ctx context.Context, code string) (*model.Room, error)
	Mutate(ctx context.Context, code string, fn model.MutateFunc) (*model.Room, error)
	Delete(ctx context.Context, code string) error
	EnsureIndexes(ctx context.Context) error
}

const (
	defaultRoomTTL    = 2 * time.Hour
	defaultMaxRetries = 8
	retryBackoff      = 5 * time.Millisecond
)

type roomRepo struct {
	collection *mongo.Collection
	ttl        time.Duration
	maxRetries int
}

func NewRoomRepo(db *mongo.Database, ttl time.Duration) RoomRepo {
	if ttl <= 0 {
		ttl = defaultRoomTTL
	}
	return &roomRepo{
		collection: db.Collection("rooms"),
		ttl:        ttl,
		maxRetries: defaultMaxRetries,
	}
}

// EnsureIndexes creates the unique code index and the expiry index.
func (r *roomRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "code", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create room indexes: %w", err)
	}
	return nil
}

func (r *roomRepo) Create(ctx context.Context, room *model.Room) error {
	room.ExpiresAt = time.Now().Add(r.ttl)
	_, err := r.collection.InsertOne(ctx, room)
	if mongo.IsDuplicateKeyError(err) {
		return apperr.ErrCodeTaken
	}
	if err != nil {
		return apperr.Transient(err, "create room")
	}
	return nil
}

func (r *roomRepo) Get(ctx context.Context, code string) (*model.Room, error) {
	var room model.Room
	err := r.collection.FindOne(ctx, bson.M{"code": code}).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.ErrRoomNotFound
	}
	if err != nil {
		return nil, apperr.Transient(err, "load room")
	}
	return &room, nil
}

// Mutate replaces the document only if its version is unchanged since the
// read. A zero match means another writer won; the mutation is retried.
func (r *roomRepo) Mutate(ctx context.Context, code string, fn model.MutateFunc) (*model.Room, error) {
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		room, err := r.Get(ctx, code)
		if err != nil {
			return nil, err
		}
		prev := room.Version
		if err := fn(room); err != nil {
			return nil, err
		}
		room.Version = prev + 1
		room.UpdatedAt = time.Now().UTC()
		room.ExpiresAt = time.Now().Add(r.ttl)

		res, err := r.collection.ReplaceOne(ctx, bson.M{"code": code, "version": prev}, room)
		if err != nil {
			return nil, apperr.Transient(err, "update room")
		}
		if res.MatchedCount == 1 {
			return room, nil
		}

		select {
		case <-ctx.Done():
			return nil, apperr.Transient(ctx.Err(), "update room")
		case <-time.After(time.Duration(attempt+1) * retryBackoff):
		}
	}
	return nil, apperr.New(apperr.KindTransient, "room %s: too many concurrent writers", code)
}

func (r *roomRepo) Delete(ctx context.Context, code string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"code": code}); err != nil {
		return apperr.Transient(err, "delete room")
	}
	return nil
}
