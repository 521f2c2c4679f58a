package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Embedder     embedding.Embedder
	Store        *vector.Store
	KeywordIndex keyword.KeywordIndex
	Loader       *indexer.Loader
	Engine       *search.Engine
	Indexer      *indexer.Indexer
}

type componentOptions struct {
	// create makes a missing index instead of failing with vector.ErrIndexNotFound.
	create bool
	// keyword opens the keyword index when one is configured.
	keyword       bool
	embedProgress vector.EmbedProgress
	fileProgress  indexer.ProgressReporter
}

func (c *Components) Close() {
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func openComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts componentOptions) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = embedder

	open := vector.Open
	if opts.create {
		open = vector.CreateOrOpen
	}
	store, err := open(ctx, cfg.Storage.IndexPath, embedder, vector.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	c.Store = store

	var engineOpts []search.Option
	idxOpts := []indexer.IndexerOption{indexer.WithLogger(logger)}
	if opts.embedProgress != nil {
		idxOpts = append(idxOpts, indexer.WithEmbedProgress(opts.embedProgress))
	}
	if opts.keyword && cfg.Storage.KeywordIndexPath != "" {
		kw, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
		}
		c.KeywordIndex = kw
		engineOpts = append(engineOpts, search.WithKeywordIndex(kw))
		idxOpts = append(idxOpts, indexer.WithKeywordIndex(kw))
	}
	engineOpts = append(engineOpts, search.WithLogger(logger))

	chunker, err := indexer.NewChunker(cfg.Chunking.MaxSize, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}
	loaderOpts := []indexer.LoaderOption{
		indexer.WithExtensions(cfg.Vault.Extensions),
		indexer.WithExclude(cfg.Vault.Exclude),
		indexer.WithReadWorkers(cfg.Vault.ReadWorkers),
		indexer.WithLoaderLogger(logger),
	}
	if opts.fileProgress != nil {
		loaderOpts = append(loaderOpts, indexer.WithLoaderProgress(opts.fileProgress))
	}
	c.Loader = indexer.NewLoader(chunker, loaderOpts...)
	c.Engine = search.NewEngine(store, cfg.Search, engineOpts...)
	c.Indexer = indexer.NewIndexer(c.Loader, store, idxOpts...)

	logger.Debug("components initialized",
		zap.String("index_path", cfg.Storage.IndexPath),
		zap.String("embedding_model", embedder.ModelID()),
		zap.Bool("keyword", c.KeywordIndex != nil))
	ok = true
	return c, nil
}
