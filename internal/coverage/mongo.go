package coverage

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/banshee-data/coverage.report/internal/geogrid"
)

const mongoCollection = "coverage_cells"

// cellDocument is the stored form of one (grid, source, cell) counter pair.
type cellDocument struct {
	Grid     string `bson:"grid"`
	Source   string `bson:"source"`
	Cell     int    `bson:"cell"`
	Received int64  `bson:"received"`
	Missing  int64  `bson:"missing"`
}

// MongoStore keeps one document per source and cell, updated with $inc.
// Documents carry the grid fingerprint so layouts never share counters.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	grid   string
}

// OpenMongoStore connects to uri and ensures the (grid, source, cell) index.
func OpenMongoStore(ctx context.Context, uri, database string, g *geogrid.Grid) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	coll := client.Database(database).Collection(mongoCollection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "grid", Value: 1}, {Key: "source", Value: 1}, {Key: "cell", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create mongo index: %w", err)
	}
	return &MongoStore{client: client, coll: coll, grid: g.Fingerprint()}, nil
}

func sourceFilter(grid, source string) bson.D {
	return bson.D{{Key: "grid", Value: grid}, {Key: "source", Value: source}}
}

func cellFilter(grid, source string, cellID int) bson.D {
	return append(sourceFilter(grid, source), bson.E{Key: "cell", Value: cellID})
}

func cellIncrement(received, missing int64) bson.D {
	return bson.D{{Key: "$inc", Value: bson.D{
		{Key: "received", Value: received},
		{Key: "missing", Value: missing},
	}}}
}

func (s *MongoStore) Add(ctx context.Context, source string, cellID int, received, missing int64) error {
	_, err := s.coll.UpdateOne(ctx,
		cellFilter(s.grid, source, cellID),
		cellIncrement(received, missing),
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongo add %s/%d: %w", source, cellID, err)
	}
	return nil
}

func (s *MongoStore) Cells(ctx context.Context, source string) (map[int]CellStats, error) {
	cur, err := s.coll.Find(ctx, sourceFilter(s.grid, source))
	if err != nil {
		return nil, fmt.Errorf("mongo cells %s: %w", source, err)
	}
	defer cur.Close(ctx)

	out := make(map[int]CellStats)
	for cur.Next(ctx) {
		var doc cellDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode cell document: %w", err)
		}
		out[doc.Cell] = CellStats{Received: doc.Received, Missing: doc.Missing}
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrUnknownSource
	}
	return out, nil
}

func (s *MongoStore) Sources(ctx context.Context) ([]string, error) {
	values, err := s.coll.Distinct(ctx, "source", bson.D{{Key: "grid", Value: s.grid}})
	if err != nil {
		return nil, fmt.Errorf("mongo sources: %w", err)
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}
