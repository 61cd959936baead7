package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const createArticlesTable = `
CREATE TABLE IF NOT EXISTS articles (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	published_at TIMESTAMPTZ,
	fetched_at TIMESTAMPTZ NOT NULL,
	classification_label TEXT,
	classification_confidence DOUBLE PRECISION,
	classification_source TEXT,
	classification_model_version TEXT,
	classified_at TIMESTAMPTZ,
	ready_for_kg BOOLEAN,
	cluster_batch_id UUID,
	cluster_label INTEGER,
	is_cluster_centroid BOOLEAN,
	distance_to_centroid DOUBLE PRECISION
)`

const createArticleClustersTable = `
CREATE TABLE IF NOT EXISTS article_clusters (
	id BIGSERIAL PRIMARY KEY,
	cluster_batch_id UUID NOT NULL,
	article_id BIGINT NOT NULL REFERENCES articles(id),
	cluster_label INTEGER NOT NULL,
	is_centroid BOOLEAN NOT NULL,
	distance_to_centroid DOUBLE PRECISION,
	clustering_method TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (cluster_batch_id, article_id)
)`

const createJobRunsTable = `
CREATE TABLE IF NOT EXISTS job_runs (
	id UUID PRIMARY KEY,
	kind TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT ''
)`

var createIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_articles_pending ON articles (fetched_at) WHERE classification_label IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_articles_cursor ON articles (classified_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_centroids ON articles (published_at, fetched_at) WHERE is_cluster_centroid = TRUE`,
	`CREATE INDEX IF NOT EXISTS idx_article_clusters_article ON article_clusters (article_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_job_runs_kind ON job_runs (kind, started_at DESC)`,
}

// Open connects to Postgres and applies connection pool bounds.
func Open(dsn string, maxOpen, maxIdle int, connLifetime time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if connLifetime > 0 {
		db.SetConnMaxLifetime(connLifetime)
	}

	return db, nil
}

// EnsureSchema creates tables and indexes when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{createArticlesTable, createArticleClustersTable, createJobRunsTable}
	stmts = append(stmts, createIndexes...)

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	return nil
}
