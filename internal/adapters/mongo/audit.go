package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/showtime-seats/internal/domain"
	"github.com/robertarktes/showtime-seats/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	UserID    string    `bson:"user_id,omitempty"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, userID *uuid.UUID, data bson.M) error {
	log := AuditLog{
		ID:        uuid.NewString(),
		Action:    action,
		Timestamp: time.Now(),
		Data:      data,
	}
	if userID != nil {
		log.UserID = userID.String()
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.Error("failed to insert audit log", err)
		return err
	}
	return nil
}

func seatData(seat domain.Seat) bson.M {
	data := bson.M{
		"showtime_id": seat.ShowtimeID.String(),
		"seat_id":     string(seat.ID),
		"status":      string(seat.Status),
	}
	if seat.ReservedUntil != nil {
		data["reserved_until"] = seat.ReservedUntil.Format(time.RFC3339)
	}
	return data
}

func (a *AuditLogger) LogHold(ctx context.Context, seat domain.Seat) error {
	return a.LogEvent(ctx, "hold.created", seat.ReservedBy, seatData(seat))
}

func (a *AuditLogger) LogRelease(ctx context.Context, seat domain.Seat, userID uuid.UUID) error {
	return a.LogEvent(ctx, "hold.released", &userID, seatData(seat))
}

func (a *AuditLogger) LogExpired(ctx context.Context, seat domain.Seat) error {
	return a.LogEvent(ctx, "hold.expired", seat.ReservedBy, seatData(seat))
}

func (a *AuditLogger) LogCleared(ctx context.Context, seat domain.Seat) error {
	return a.LogEvent(ctx, "seat.cleared", nil, seatData(seat))
}

func (a *AuditLogger) LogBooking(ctx context.Context, booking domain.Booking) error {
	seats := make([]string, len(booking.Items))
	for i, it := range booking.Items {
		seats[i] = string(it.SeatID)
	}
	data := bson.M{
		"booking_id":  booking.ID.String(),
		"showtime_id": booking.ShowtimeID.String(),
		"status":      string(booking.Status),
		"total":       booking.TotalPrice,
		"seats":       seats,
	}
	return a.LogEvent(ctx, "booking."+string(booking.Status), &booking.UserID, data)
}
