// Package mongodb issues the flush-and-lock pair that makes the local
// snapshot filesystem-consistent.
package mongodb

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const DefaultURL = "mongodb://127.0.0.1:27017"

var lockLog = logrus.WithFields(logrus.Fields{
	"component": "mongodb",
})

// Locker holds a mongod instance in a flushed, locked state between
// Lock and Unlock. The window must stay as short as possible: writes
// are blocked for its whole duration.
type Locker struct {
	URL string

	client *mongo.Client
}

func NewLocker(url string) *Locker {
	if url == "" {
		url = DefaultURL
	}
	return &Locker{URL: url}
}

// Lock connects and issues fsync+lock. On success the connection is
// kept open for the matching Unlock.
func (l *Locker) Lock(ctx context.Context) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(l.URL))
	if err != nil {
		return fmt.Errorf("connect to %s: %w", l.URL, err)
	}

	lockLog.Print("locking mongo")
	res := client.Database("admin").RunCommand(ctx, bson.D{
		{Key: "fsync", Value: 1},
		{Key: "lock", Value: true},
	})
	if err := res.Err(); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("fsync lock: %w", err)
	}

	l.client = client
	return nil
}

// Unlock releases the flush lock taken by Lock. Calling it without a
// prior successful Lock is a no-op.
func (l *Locker) Unlock(ctx context.Context) error {
	if l.client == nil {
		return nil
	}
	defer func() {
		_ = l.client.Disconnect(ctx)
		l.client = nil
	}()

	lockLog.Print("unlocking mongo")
	res := l.client.Database("admin").RunCommand(ctx, bson.D{
		{Key: "fsyncUnlock", Value: 1},
	})
	if err := res.Err(); err != nil {
		return fmt.Errorf("fsync unlock: %w", err)
	}
	return nil
}
