package qdrant

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"github.com/sweetpotato0/ragline/config"
	"github.com/sweetpotato0/ragline/store"
)

// Store implements store.Secondary on a Qdrant collection mirroring the
// primary chunks. Point IDs are the primary chunk IDs.
type Store struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// Config holds Qdrant connection settings.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

// ConfigFromEnv loads Qdrant configuration from environment variables.
func ConfigFromEnv(dimension int) *Config {
	cfg := &Config{
		Host:       "localhost",
		Port:       6334,
		Collection: "chunks",
		Dimension:  dimension,
	}
	if v := os.Getenv("QDRANT_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("QDRANT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("QDRANT_COLLECTION"); v != "" {
		cfg.Collection = v
	}
	cfg.UseTLS = os.Getenv("QDRANT_USE_TLS") == "true"
	return cfg
}

// New connects to Qdrant and ensures the mirror collection exists.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("qdrant: config is required")
	}
	if err := config.ValidateQdrantConfig(cfg.Host, cfg.Port, cfg.Collection); err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}
	s := &Store{client: client, collection: cfg.Collection, dimension: cfg.Dimension}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check if collection exists: %w", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// UpsertPoint mirrors one primary chunk into the collection.
func (s *Store) UpsertPoint(ctx context.Context, point store.Point) error {
	payload := map[string]any{
		"chunk_id":    point.Payload.ChunkID,
		"document_id": point.Payload.DocumentID,
		"chunk_index": point.Payload.ChunkIndex,
		"content":     point.Payload.Content,
	}
	if point.Payload.Source != "" {
		payload["source"] = point.Payload.Source
	}
	qp := make(map[string]*qdrant.Value, len(payload))
	for key, value := range payload {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return fmt.Errorf("failed to convert payload value for key %s: %w", key, err)
		}
		qp[key] = val
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(point.ID),
			Vectors: qdrant.NewVectors(point.Vector...),
			Payload: qp,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point %s: %w", point.ID, err)
	}
	return nil
}

// DeletePoint removes one point by its chunk ID. Missing points are a no-op.
func (s *Store) DeletePoint(ctx context.Context, id string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{
						{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id}},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete point %s: %w", id, err)
	}
	return nil
}

// Search returns up to k hits; Score is Qdrant's cosine similarity in [0,1].
func (s *Store) Search(ctx context.Context, queryVector []float32, k int) ([]store.PointHit, error) {
	if k <= 0 {
		k = 10
	}
	searchResult, err := s.client.GetPointsClient().Search(ctx, &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         queryVector,
		Limit:          uint64(k),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	hits := make([]store.PointHit, 0, len(searchResult.Result))
	for _, point := range searchResult.Result {
		hit := store.PointHit{Score: point.Score}
		if point.Id != nil {
			if uuid, ok := point.Id.PointIdOptions.(*qdrant.PointId_Uuid); ok {
				hit.ChunkID = uuid.Uuid
			}
		}
		for key, value := range point.Payload {
			switch key {
			case "chunk_id":
				if v, ok := value.Kind.(*qdrant.Value_StringValue); ok && hit.ChunkID == "" {
					hit.ChunkID = v.StringValue
				}
			case "document_id":
				if v, ok := value.Kind.(*qdrant.Value_StringValue); ok {
					hit.DocumentID = v.StringValue
				}
			case "chunk_index":
				if v, ok := value.Kind.(*qdrant.Value_IntegerValue); ok {
					hit.ChunkIndex = int(v.IntegerValue)
				}
			case "content":
				if v, ok := value.Kind.(*qdrant.Value_StringValue); ok {
					hit.Content = v.StringValue
				}
			case "source":
				if v, ok := value.Kind.(*qdrant.Value_StringValue); ok {
					hit.Source = v.StringValue
				}
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// CountPoints reports the exact number of points in the collection.
func (s *Store) CountPoints(ctx context.Context) (int64, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int64(count), nil
}

// Close closes the Qdrant client.
func (s *Store) Close() error {
	return s.client.Close()
}
