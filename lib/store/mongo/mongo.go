// Package mongo implements the key-value interface for MongoDB. Rows are stored as
// documents with a binary _id so range filters on _id provide the prefix scans.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dtorres/electrumd/lib/store"
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// mongoRow is the document layout for an index row.
type mongoRow struct {
	ID primitive.Binary `bson:"_id"`
	V  primitive.Binary `bson:"v"`
}

const (
	database   = "index"
	collection = "rows"
)

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	err = c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

// Close implements store.KV.
func (m *Mongo) Close() error {
	return m.CloseMongo()
}

func (m *Mongo) col() *mgo.Collection {
	return m.c.Database(database).Collection(collection)
}

func bin(b []byte) primitive.Binary {
	return primitive.Binary{Subtype: 0x00, Data: b}
}

// Get returns the value stored under key, or store.ErrNotFound.
func (m *Mongo) Get(key []byte) ([]byte, error) {
	var row mongoRow

	err := m.col().FindOne(context.Background(), bson.M{"_id": bin(key)}).Decode(&row)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("could not get row from db: %w", err)
	}

	return row.V.Data, nil
}

// Write upserts all rows in one bulk operation.
func (m *Mongo) Write(rows []store.Row) error {
	if len(rows) == 0 {
		return nil
	}

	models := make([]mgo.WriteModel, 0, len(rows))
	for _, r := range rows {
		models = append(models, mgo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": bin(r.Key)}).
			SetReplacement(bson.M{"_id": bin(r.Key), "v": bin(r.Value)}).
			SetUpsert(true))
	}

	_, err := m.col().BulkWrite(context.Background(), models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("could not write rows to db: %w", err)
	}

	return nil
}

// Delete removes the given keys. Missing keys are ignored.
func (m *Mongo) Delete(keys [][]byte) error {
	if len(keys) == 0 {
		return nil
	}

	ids := make([]primitive.Binary, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, bin(k))
	}

	_, err := m.col().DeleteMany(context.Background(), bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return fmt.Errorf("could not delete rows from db: %w", err)
	}

	return nil
}

// ScanPrefix returns all rows under prefix in key order.
func (m *Mongo) ScanPrefix(prefix []byte) ([]store.Row, error) {
	filter := bson.M{"_id": bson.M{"$gte": bin(prefix)}}
	if end := store.PrefixEnd(prefix); end != nil {
		filter = bson.M{"_id": bson.M{"$gte": bin(prefix), "$lt": bin(end)}}
	}

	cur, err := m.col().Find(context.Background(), filter, options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("error scanning db prefix: %w", err)
	}
	defer cur.Close(context.Background())

	var rows []store.Row

	for cur.Next(context.Background()) {
		var row mongoRow
		if err = bson.Unmarshal(cur.Current, &row); err != nil {
			return nil, fmt.Errorf("error decoding db row: %w", err)
		}

		rows = append(rows, store.Row{Key: row.ID.Data, Value: row.V.Data})
	}

	return rows, cur.Err()
}
