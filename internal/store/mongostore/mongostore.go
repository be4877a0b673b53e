package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SiteSpectra/internal/config"
	"SiteSpectra/internal/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const rollupCollection = "rollups"

// rollupRecord is the persisted shape of a rollup document. The exact
// id list and the sketch are mutually exclusive on disk: every write of
// a sketched document unsets exactIds rather than leaving a stale list.
type rollupRecord struct {
	ID            string    `bson:"_id"`
	Site          string    `bson:"site"`
	Path          string    `bson:"path"`
	Bucket        time.Time `bson:"bucket"`
	Granularity   string    `bson:"granularity"`
	Views         int64     `bson:"views"`
	ExactIDs      []string  `bson:"exactIds,omitempty"`
	Sketch        string    `bson:"sketch,omitempty"`
	Uniques       int64     `bson:"uniques"`
	CompactedHour bool      `bson:"compactedHour,omitempty"`
	CompactedDay  bool      `bson:"compactedDay,omitempty"`
	UpdatedAt     time.Time `bson:"updatedAt,omitempty"`
}

func (r *rollupRecord) toModel() *model.RollupDoc {
	return &model.RollupDoc{
		Site:          r.Site,
		Path:          r.Path,
		Bucket:        r.Bucket.UTC(),
		Granularity:   model.Granularity(r.Granularity),
		Views:         uint64(r.Views),
		ExactIDs:      r.ExactIDs,
		Sketch:        r.Sketch,
		Uniques:       uint64(r.Uniques),
		CompactedHour: r.CompactedHour,
		CompactedDay:  r.CompactedDay,
		UpdatedAt:     r.UpdatedAt,
	}
}

// RollupStore implements model.RollupStore on MongoDB. Per-document
// atomicity comes from session transactions; the driver retries
// transient transaction errors before they surface here.
type RollupStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// New connects to MongoDB and ensures the rollup indexes exist.
func New(ctx context.Context, cfg config.MongoConfig) (*RollupStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(rollupCollection)
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "site", Value: 1}, {Key: "granularity", Value: 1}, {Key: "bucket", Value: 1}}},
		{Keys: bson.D{{Key: "granularity", Value: 1}, {Key: "compactedHour", Value: 1}, {Key: "bucket", Value: 1}}},
		{Keys: bson.D{{Key: "granularity", Value: 1}, {Key: "compactedDay", Value: 1}, {Key: "bucket", Value: 1}}},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create rollup indexes: %w", err)
	}

	return &RollupStore{client: client, coll: coll}, nil
}

// Close disconnects from MongoDB.
func (s *RollupStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *RollupStore) readForUpdate(ctx context.Context, key model.RollupKey) (*model.RollupDoc, error) {
	var rec rollupRecord
	err := s.coll.FindOne(ctx, bson.M{"_id": key.ID()}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &model.RollupDoc{
			Site:        key.Site,
			Path:        key.Path,
			Bucket:      key.Bucket.UTC(),
			Granularity: key.Granularity,
			ExactIDs:    []string{},
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return rec.toModel(), nil
}

// writeUpdate builds the upsert for one rollup document. The compaction
// flags only ever appear as $set true, so a racing writer can never
// clear a flag, and exactIds is explicitly unset the moment a sketch
// exists. updatedAt is server-assigned.
func writeUpdate(doc *model.RollupDoc) bson.D {
	set := bson.D{
		{Key: "site", Value: doc.Site},
		{Key: "path", Value: doc.Path},
		{Key: "bucket", Value: doc.Bucket.UTC()},
		{Key: "granularity", Value: string(doc.Granularity)},
		{Key: "views", Value: int64(doc.Views)},
		{Key: "uniques", Value: int64(doc.Uniques)},
	}
	if doc.CompactedHour {
		set = append(set, bson.E{Key: "compactedHour", Value: true})
	}
	if doc.CompactedDay {
		set = append(set, bson.E{Key: "compactedDay", Value: true})
	}

	update := bson.D{{Key: "$currentDate", Value: bson.D{{Key: "updatedAt", Value: true}}}}
	if doc.Sketch != "" {
		set = append(set, bson.E{Key: "sketch", Value: doc.Sketch})
		update = append(update, bson.E{Key: "$unset", Value: bson.D{{Key: "exactIds", Value: ""}}})
	} else {
		ids := doc.ExactIDs
		if ids == nil {
			ids = []string{}
		}
		set = append(set, bson.E{Key: "exactIds", Value: ids})
	}
	return append(bson.D{{Key: "$set", Value: set}}, update...)
}

// Update runs fn against the document for key inside a transaction.
func (s *RollupStore) Update(ctx context.Context, key model.RollupKey, fn func(doc *model.RollupDoc) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("%w: failed to start session: %v", model.ErrTransientStore, err)
	}
	defer session.EndSession(ctx)

	var fnErr error
	_, err = session.WithTransaction(ctx, func(ctx context.Context) (interface{}, error) {
		doc, err := s.readForUpdate(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := fn(doc); err != nil {
			fnErr = err
			return nil, err
		}
		fnErr = nil
		_, err = s.coll.UpdateOne(ctx,
			bson.M{"_id": key.ID()},
			writeUpdate(doc),
			options.UpdateOne().SetUpsert(true))
		return nil, err
	})
	if err != nil {
		// Callback errors keep their identity; everything else is a
		// store-side failure that survived the driver's retries.
		if fnErr != nil {
			return fnErr
		}
		return fmt.Errorf("%w: rollup update for %s: %v", model.ErrTransientStore, key.ID(), err)
	}
	return nil
}

func (s *RollupStore) InRange(ctx context.Context, site string, g model.Granularity, from, to time.Time, path string) ([]*model.RollupDoc, error) {
	filter := bson.M{
		"site":        site,
		"granularity": string(g),
		"bucket":      bson.M{"$gte": from.UTC(), "$lte": to.UTC()},
	}
	if path == "" {
		filter["path"] = bson.M{"$ne": model.WildcardPath}
	} else {
		filter["path"] = path
	}

	cursor, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: rollup range query: %v", model.ErrTransientStore, err)
	}
	var records []rollupRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("%w: rollup range decode: %v", model.ErrTransientStore, err)
	}

	docs := make([]*model.RollupDoc, len(records))
	for i := range records {
		docs[i] = records[i].toModel()
	}
	return docs, nil
}

func (s *RollupStore) Uncompacted(ctx context.Context, g model.Granularity, cutoff time.Time, limit int) ([]*model.RollupDoc, error) {
	flag := "compactedHour"
	if g == model.GranularityHour {
		flag = "compactedDay"
	}
	filter := bson.M{
		"granularity": string(g),
		"bucket":      bson.M{"$lt": cutoff.UTC()},
		flag:          bson.M{"$ne": true},
	}

	opts := options.Find().SetLimit(int64(limit)).SetSort(bson.D{{Key: "bucket", Value: 1}})
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: uncompacted query: %v", model.ErrTransientStore, err)
	}
	var records []rollupRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("%w: uncompacted decode: %v", model.ErrTransientStore, err)
	}

	docs := make([]*model.RollupDoc, len(records))
	for i := range records {
		docs[i] = records[i].toModel()
	}
	return docs, nil
}

// Compact folds into the target and flags every consumed source in one
// transaction, so an interrupted run leaves the sources unflagged and
// the next run recomputes the identical fold.
func (s *RollupStore) Compact(ctx context.Context, target model.RollupKey, fn func(doc *model.RollupDoc) error, sources []model.RollupKey) error {
	flag := "compactedHour"
	if target.Granularity == model.GranularityDay {
		flag = "compactedDay"
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("%w: failed to start session: %v", model.ErrTransientStore, err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (interface{}, error) {
		doc, err := s.readForUpdate(ctx, target)
		if err != nil {
			return nil, err
		}
		if err := fn(doc); err != nil {
			return nil, err
		}
		if _, err := s.coll.UpdateOne(ctx,
			bson.M{"_id": target.ID()},
			writeUpdate(doc),
			options.UpdateOne().SetUpsert(true)); err != nil {
			return nil, err
		}

		marks := make([]mongo.WriteModel, len(sources))
		for i, src := range sources {
			marks[i] = mongo.NewUpdateOneModel().
				SetFilter(bson.M{"_id": src.ID()}).
				SetUpdate(bson.D{{Key: "$set", Value: bson.D{{Key: flag, Value: true}}}})
		}
		_, err = s.coll.BulkWrite(ctx, marks)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("%w: compaction batch for %s: %v", model.ErrTransientStore, target.ID(), err)
	}
	return nil
}
