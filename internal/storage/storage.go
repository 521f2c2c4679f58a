// Package storage defines the persistence interface for embedded passages.
package storage

import (
	"context"

	"github.com/hyperjump/kioku/internal/fileid"
	"github.com/hyperjump/kioku/internal/models"
)

// PassageRecord is a passage together with its embedding.
type PassageRecord struct {
	Passage   models.Passage
	Embedding []float32
}

// VectorRecord is a stored embedding in insertion order.
type VectorRecord struct {
	Seq       int64
	ID        string
	Embedding []float32
}

// SourceRecord tracks an indexed transcript file for incremental reindexing.
type SourceRecord struct {
	ID       string
	Path     string
	Stamp    fileid.Stamp
	Passages int
}

// Storage defines passage, vector and source persistence operations.
type Storage interface {
	// Index metadata
	Meta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, values map[string]string) error

	// ReplaceSources removes the passages of every given source, upserts the
	// source rows, and inserts records, all in one transaction. It returns the
	// IDs of the removed passages.
	ReplaceSources(ctx context.Context, sources []SourceRecord, records []PassageRecord) ([]string, error)
	// DeleteSources removes the given source paths and their passages.
	DeleteSources(ctx context.Context, paths []string) ([]string, error)

	LoadVectors(ctx context.Context) ([]VectorRecord, error)
	GetPassages(ctx context.Context, ids []string) (map[string]models.Passage, error)
	ListPassages(ctx context.Context, offset, limit int) ([]models.Passage, error)
	Sources(ctx context.Context) (map[string]SourceRecord, error)

	// Stats
	CountPassages(ctx context.Context) (int64, error)
	CountSources(ctx context.Context) (int64, error)

	Close() error
}
