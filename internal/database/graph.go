package database

import (
	"context"
	"fmt"

	"github.com/qs3c/anal_graph_server/config"
	"github.com/qs3c/anal_graph_server/internal/graphstore"
	"github.com/qs3c/anal_graph_server/internal/graphstore/badgerstore"
	"github.com/qs3c/anal_graph_server/internal/graphstore/neo4jstore"
)

// NewGraphStore 按配置创建图存储并确保索引存在
func NewGraphStore(ctx context.Context, cfg *config.GraphConfig) (graphstore.Store, error) {
	var (
		store graphstore.Store
		err   error
	)
	switch cfg.Driver {
	case "badger", "":
		store, err = badgerstore.Open(badgerstore.Config{
			Path:       cfg.Badger.Path,
			InMemory:   cfg.Badger.InMemory,
			SyncWrites: cfg.Badger.SyncWrites,
		})
	case "neo4j":
		store, err = neo4jstore.NewStore(ctx, cfg.Neo4j)
	default:
		return nil, fmt.Errorf("unsupported graph driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := store.EnsureIndexes(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to ensure graph indexes: %w", err)
	}
	return store, nil
}
