package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/showtime-seats/internal/domain"
	"github.com/robertarktes/showtime-seats/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("showtimes"),
		logger: logger,
	}
}

// ShowtimeDoc is one screening with its hall geometry. The id is stored as
// its string form so it reads the same from the mongo shell.
type ShowtimeDoc struct {
	ID           string        `bson:"_id"`
	MovieTitle   string        `bson:"movie_title"`
	Hall         string        `bson:"hall"`
	StartsAt     time.Time     `bson:"starts_at"`
	Layout       domain.Layout `bson:"layout"`
	PricePerSeat float64       `bson:"price_per_seat"`
	CreatedAt    time.Time     `bson:"created_at"`
	UpdatedAt    time.Time     `bson:"updated_at"`
}

func (d ShowtimeDoc) ShowtimeID() (uuid.UUID, error) {
	return uuid.Parse(d.ID)
}

func (c *CatalogRepository) GetShowtime(ctx context.Context, id uuid.UUID) (*ShowtimeDoc, error) {
	var doc ShowtimeDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		c.logger.Error("failed to get showtime", err)
		return nil, err
	}
	if len(doc.Layout.Rows) == 0 {
		doc.Layout = domain.DefaultLayout
	}
	return &doc, nil
}

func (c *CatalogRepository) CreateShowtime(ctx context.Context, doc ShowtimeDoc) error {
	if err := doc.Layout.Validate(); err != nil {
		return err
	}
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt
	_, err := c.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return errors.Wrapf(domain.ErrConflict, "showtime %s exists", doc.ID)
	}
	if err != nil {
		c.logger.Error("failed to create showtime", err)
		return err
	}
	return nil
}

func (c *CatalogRepository) UpdatePrice(ctx context.Context, id uuid.UUID, price float64) error {
	res, err := c.coll.UpdateOne(
		ctx,
		bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{"price_per_seat": price, "updated_at": time.Now()}},
	)
	if err != nil {
		c.logger.Error("failed to update showtime price", err)
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}
