// Package mongo implements audit.Store on MongoDB.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sweetpotato0/ragline/document"
)

// Config holds MongoDB configuration
type Config struct {
	URI         string
	Database    string
	Timeout     time.Duration
	RewriteCol  string
	FeedbackCol string
}

// DefaultConfig returns default MongoDB configuration
func DefaultConfig() *Config {
	return &Config{
		URI:         "mongodb://localhost:27017",
		Database:    "ragline",
		Timeout:     10 * time.Second,
		RewriteCol:  "query_rewrites",
		FeedbackCol: "feedback",
	}
}

// Store persists audit records to MongoDB collections.
type Store struct {
	config   *Config
	client   *mongo.Client
	rewrites *mongo.Collection
	feedback *mongo.Collection
}

// New connects to MongoDB and binds the audit collections.
func New(ctx context.Context, config *Config) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(config.Database)
	return &Store{
		config:   config,
		client:   client,
		rewrites: db.Collection(config.RewriteCol),
		feedback: db.Collection(config.FeedbackCol),
	}, nil
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) SaveRewrite(ctx context.Context, rec document.RewriteRecord) error {
	if _, err := s.rewrites.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("save rewrite: %w", err)
	}
	return nil
}

func (s *Store) SaveFeedback(ctx context.Context, fb document.Feedback) error {
	if _, err := s.feedback.InsertOne(ctx, fb); err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	return nil
}
