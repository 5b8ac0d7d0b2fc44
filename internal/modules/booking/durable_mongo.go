// README: Durable booking store backed by MongoDB (status-filtered FindOneAndUpdate).
package booking

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ridebook/internal/modules/matching"
	"ridebook/internal/types"
)

type bookingDoc struct {
	ID           string           `bson:"_id"`
	RiderID      string           `bson:"rider_id"`
	Pickup       string           `bson:"pickup"`
	Dropoff      string           `bson:"dropoff"`
	Date         string           `bson:"service_date"`
	Time         string           `bson:"service_time"`
	Status       string           `bson:"status"`
	Driver       *matching.Driver `bson:"driver,omitempty"`
	CreatedAt    time.Time        `bson:"created_at"`
	UpdatedAt    time.Time        `bson:"updated_at"`
	ConfirmedAt  *time.Time       `bson:"confirmed_at,omitempty"`
	CompletedAt  *time.Time       `bson:"completed_at,omitempty"`
	CancelledAt  *time.Time       `bson:"cancelled_at,omitempty"`
	CancelReason *string          `bson:"cancel_reason,omitempty"`
}

type MongoDurable struct {
	col *mongo.Collection
}

func NewMongoDurable(db *mongo.Database) *MongoDurable {
	return &MongoDurable{col: db.Collection("bookings")}
}

// EnsureIndexes creates the rider and pending-sweep indexes.
func (s *MongoDurable) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "rider_id", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	return err
}

func (s *MongoDurable) Insert(ctx context.Context, b *Booking) error {
	_, err := s.col.InsertOne(ctx, toDoc(b))
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	return err
}

func (s *MongoDurable) Get(ctx context.Context, id types.ID) (*Booking, error) {
	var doc bookingDoc
	err := s.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromDoc(&doc), nil
}

func (s *MongoDurable) UpdateStatusAndDriver(ctx context.Context, id types.ID, expected, next Status, driver *matching.Driver, reason string) (*Booking, error) {
	now := time.Now().UTC()
	set := bson.M{
		"status":     string(next),
		"updated_at": now,
	}
	if driver != nil {
		set["driver"] = driver
	}
	switch next {
	case StatusConfirmed:
		set["confirmed_at"] = now
	case StatusCompleted:
		set["completed_at"] = now
	case StatusCancelled:
		set["cancelled_at"] = now
		if reason != "" {
			set["cancel_reason"] = reason
		}
	}

	filter := bson.M{"_id": string(id), "status": string(expected)}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc bookingDoc
	err := s.col.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		n, cerr := s.col.CountDocuments(ctx, bson.M{"_id": string(id)})
		if cerr != nil {
			return nil, cerr
		}
		if n == 0 {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return fromDoc(&doc), nil
}

func (s *MongoDurable) QueryByRider(ctx context.Context, riderID types.ID) ([]*Booking, error) {
	return s.find(ctx, bson.M{"rider_id": string(riderID)})
}

func (s *MongoDurable) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*Booking, error) {
	return s.find(ctx, bson.M{
		"status":     string(StatusPending),
		"created_at": bson.M{"$lt": cutoff},
	})
}

func (s *MongoDurable) find(ctx context.Context, filter bson.M) ([]*Booking, error) {
	cur, err := s.col.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var docs []bookingDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*Booking, 0, len(docs))
	for i := range docs {
		out = append(out, fromDoc(&docs[i]))
	}
	return out, nil
}

func toDoc(b *Booking) *bookingDoc {
	return &bookingDoc{
		ID:           string(b.ID),
		RiderID:      string(b.RiderID),
		Pickup:       b.Pickup,
		Dropoff:      b.Dropoff,
		Date:         b.Date,
		Time:         b.Time,
		Status:       string(b.Status),
		Driver:       b.Driver,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
		ConfirmedAt:  b.ConfirmedAt,
		CompletedAt:  b.CompletedAt,
		CancelledAt:  b.CancelledAt,
		CancelReason: b.CancelReason,
	}
}

func fromDoc(d *bookingDoc) *Booking {
	return &Booking{
		ID:           types.ID(d.ID),
		RiderID:      types.ID(d.RiderID),
		Pickup:       d.Pickup,
		Dropoff:      d.Dropoff,
		Date:         d.Date,
		Time:         d.Time,
		Status:       Status(d.Status),
		Driver:       d.Driver,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		ConfirmedAt:  d.ConfirmedAt,
		CompletedAt:  d.CompletedAt,
		CancelledAt:  d.CancelledAt,
		CancelReason: d.CancelReason,
	}
}
