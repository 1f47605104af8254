// Package db implements the opening and graceful closing of index database connections.
package db

import (
	"fmt"

	"github.com/dtorres/electrumd/lib/store"
	"github.com/dtorres/electrumd/lib/store/level"
	"github.com/dtorres/electrumd/lib/store/mongo"
	"github.com/dtorres/electrumd/lib/store/postgres"
)

const (
	LEVELDB  string = "leveldb"
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
)

// New returns a new database connection according to the options (database type). LevelDB
// opens the dir path, the other backends dial the connection uri.
func New(options, connection, dir string) (store.KV, error) {
	switch options {
	case LEVELDB:
		return level.New(dir)
	case MONGODB:
		return mongo.New(connection)
	case POSTGRES:
		return postgres.New(connection)
	}

	return nil, fmt.Errorf("unknown database type %q", options)
}

// Close gracefully closes the database connection.
func Close(options string, kv store.KV) error {
	switch options {
	case LEVELDB:
		return kv.(*level.Level).CloseLevel()
	case MONGODB:
		return kv.(*mongo.Mongo).CloseMongo()
	case POSTGRES:
		return kv.(*postgres.Postgres).ClosePostgres()
	}

	return nil
}
