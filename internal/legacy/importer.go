package legacy

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/carebridge/carebridge/internal/domain/appointment"
)

// Collection is the legacy collection name.
const Collection = "appointments"

// Source yields legacy records one at a time.
type Source interface {
	Each(ctx context.Context, fn func(Record) error) error
}

// Sink stores a converted appointment, reporting false when it already exists.
type Sink interface {
	Import(ctx context.Context, a *appointment.Appointment) (bool, error)
}

// MongoSource reads the legacy appointments collection.
type MongoSource struct {
	client *mongo.Client
	db     *mongo.Database
	coll   *mongo.Collection
}

// Connect opens the legacy database.
func Connect(ctx context.Context, uri, database string) (*MongoSource, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	db := client.Database(database)
	return &MongoSource{client: client, db: db, coll: db.Collection(Collection)}, nil
}

// Each streams every document in insertion order.
func (s *MongoSource) Each(ctx context.Context, fn func(Record) error) error {
	cursor, err := s.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return fmt.Errorf("find appointments: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var rec Record
		if err := cursor.Decode(&rec); err != nil {
			return fmt.Errorf("decode appointment: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return cursor.Err()
}

// Close disconnects from MongoDB.
func (s *MongoSource) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Report summarizes an import run.
type Report struct {
	Read     int `json:"read"`
	Imported int `json:"imported"`
	Existing int `json:"existing"`
	Failed   int `json:"failed"`
}

// Importer copies legacy records into the sink. Records that fail to
// convert or store are logged and counted; the run continues.
type Importer struct {
	source Source
	sink   Sink
	now    func() time.Time
	dryRun bool
	logger *zap.Logger
}

// NewImporter creates an importer. With dryRun set records are converted
// but never written.
func NewImporter(source Source, sink Sink, dryRun bool, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{source: source, sink: sink, now: time.Now, dryRun: dryRun, logger: logger}
}

// Run performs the import.
func (im *Importer) Run(ctx context.Context) (Report, error) {
	var rep Report
	err := im.source.Each(ctx, func(rec Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rep.Read++

		a, err := Convert(rec, im.now())
		if err != nil {
			rep.Failed++
			im.logger.Warn("skipping unconvertible record", zap.Error(err))
			return nil
		}
		if a.Completed && a.Prescription.Len() == 0 {
			im.logger.Warn("completed appointment has no prescription entries",
				zap.String("appointment_id", a.ID))
		}
		if im.dryRun {
			rep.Imported++
			return nil
		}

		inserted, err := im.sink.Import(ctx, a)
		switch {
		case err != nil:
			rep.Failed++
			im.logger.Error("import failed", zap.String("appointment_id", a.ID), zap.Error(err))
		case inserted:
			rep.Imported++
		default:
			rep.Existing++
		}
		return nil
	})
	if err != nil {
		return rep, err
	}

	im.logger.Info("legacy import finished",
		zap.Int("read", rep.Read),
		zap.Int("imported", rep.Imported),
		zap.Int("existing", rep.Existing),
		zap.Int("failed", rep.Failed),
		zap.Bool("dry_run", im.dryRun))
	return rep, nil
}
