/*
Copyright 2026 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/gravitational/logport"
	"github.com/gravitational/logport/lib/aggregate"
	"github.com/gravitational/logport/lib/anomaly"
	"github.com/gravitational/logport/lib/types"
)

// PostgresConfig configures the Postgres store.
type PostgresConfig struct {
	// DSN is the postgres connection string
	DSN string
	// Clock stamps updates
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *PostgresConfig) CheckAndSetDefaults() error {
	if c.DSN == "" {
		return trace.BadParameter("missing parameter DSN")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// PostgresStore is a JobStore on a pgx connection pool.
type PostgresStore struct {
	cfg PostgresConfig
	*log.Entry

	pool *pgxpool.Pool
}

// NewPostgresStore connects the pool and verifies the connection.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, trace.BadParameter("invalid postgres DSN: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, trace.ConnectionProblem(err, "connecting to postgres: %v", err)
	}
	return &PostgresStore{
		cfg:   cfg,
		Entry: log.WithField(logport.Component, logport.ComponentStore),
		pool:  pool,
	}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Bootstrap creates the schema when missing. It is idempotent and safe
// to run on every startup.
func (s *PostgresStore) Bootstrap(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return trace.Wrap(convertError(err))
	}
	return nil
}

// withConflictRetry runs fn, retrying exactly once when the database
// reports a serialization conflict.
func (s *PostgresStore) withConflictRetry(ctx context.Context, fn func(context.Context) error) error {
	err := fn(ctx)
	if err != nil && isSerializationError(err) {
		s.Debugf("Retrying after serialization conflict: %v.", err)
		err = fn(ctx)
	}
	return trace.Wrap(err)
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// convertError maps driver errors to the shared error kinds.
func convertError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return trace.NotFound("not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return trace.AlreadyExists("already exists: %v", pgErr.Detail)
		case "23503":
			return trace.BadParameter("constraint violation: %v", pgErr.Message)
		}
	}
	return trace.Wrap(err)
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data, nil
}

// GetSite returns the site by ID.
func (s *PostgresStore) GetSite(ctx context.Context, id string) (types.Site, error) {
	var site types.Site
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, log_format FROM sites WHERE id = $1`, id,
	).Scan(&site.ID, &site.Name, &site.LogFormat)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Site{}, trace.NotFound("site %q not found", id)
		}
		return types.Site{}, trace.Wrap(convertError(err))
	}
	return site, nil
}

// CreateSite inserts a site. Used by bootstrap and tests.
func (s *PostgresStore) CreateSite(ctx context.Context, site types.Site) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sites (id, name, log_format) VALUES ($1, $2, $3)`,
		site.ID, site.Name, site.LogFormat)
	return trace.Wrap(convertError(err))
}

const sourceColumns = `id, site_id, name, source_type, status,
	connection_config, schedule,
	last_fetch_at, COALESCE(last_fetch_status, ''), COALESCE(last_fetch_error, ''),
	last_fetched_bytes, created_at, updated_at`

func scanSource(row pgx.Row) (types.LogSource, error) {
	var source types.LogSource
	var connConfig, schedule []byte
	err := row.Scan(
		&source.ID, &source.SiteID, &source.Name, &source.Type, &source.Status,
		&connConfig, &schedule,
		&source.LastFetchAt, &source.LastFetchStatus, &source.LastFetchError,
		&source.LastFetchedBytes, &source.CreatedAt, &source.UpdatedAt)
	if err != nil {
		return types.LogSource{}, trace.Wrap(err)
	}
	if err := json.Unmarshal(connConfig, &source.ConnectionConfig); err != nil {
		return types.LogSource{}, trace.BadParameter("corrupt connection config for source %v: %v", source.ID, err)
	}
	if err := json.Unmarshal(schedule, &source.Schedule); err != nil {
		return types.LogSource{}, trace.BadParameter("corrupt schedule for source %v: %v", source.ID, err)
	}
	return source, nil
}

// GetLogSource returns the source by ID.
func (s *PostgresStore) GetLogSource(ctx context.Context, id string) (types.LogSource, error) {
	source, err := scanSource(s.pool.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM log_sources WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.LogSource{}, trace.NotFound("log source %q not found", id)
		}
		return types.LogSource{}, trace.Wrap(convertError(err))
	}
	return source, nil
}

// CreateLogSource inserts a new source.
func (s *PostgresStore) CreateLogSource(ctx context.Context, source types.LogSource) error {
	connConfig, err := marshalJSON(source.ConnectionConfig)
	if err != nil {
		return trace.Wrap(err)
	}
	schedule, err := marshalJSON(source.Schedule)
	if err != nil {
		return trace.Wrap(err)
	}
	now := s.cfg.Clock.Now().UTC()
	if source.CreatedAt.IsZero() {
		source.CreatedAt = now
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO log_sources (id, site_id, name, source_type, status,
			connection_config, schedule, last_fetch_at, last_fetch_status,
			last_fetch_error, last_fetched_bytes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11, $12, $13)`,
		source.ID, source.SiteID, source.Name, source.Type, source.Status,
		connConfig, schedule, source.LastFetchAt, string(source.LastFetchStatus),
		source.LastFetchError, source.LastFetchedBytes, source.CreatedAt, now)
	return trace.Wrap(convertError(err))
}

// UpdateLogSource replaces the stored source.
func (s *PostgresStore) UpdateLogSource(ctx context.Context, source types.LogSource) error {
	connConfig, err := marshalJSON(source.ConnectionConfig)
	if err != nil {
		return trace.Wrap(err)
	}
	schedule, err := marshalJSON(source.Schedule)
	if err != nil {
		return trace.Wrap(err)
	}
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx,
			`UPDATE log_sources SET name = $2, source_type = $3, status = $4,
				connection_config = $5, schedule = $6, last_fetch_at = $7,
				last_fetch_status = NULLIF($8, ''), last_fetch_error = NULLIF($9, ''),
				last_fetched_bytes = $10, updated_at = $11
			 WHERE id = $1`,
			source.ID, source.Name, source.Type, source.Status,
			connConfig, schedule, source.LastFetchAt, string(source.LastFetchStatus),
			source.LastFetchError, source.LastFetchedBytes, s.cfg.Clock.Now().UTC())
		if err != nil {
			return convertError(err)
		}
		if tag.RowsAffected() == 0 {
			return trace.NotFound("log source %q not found", source.ID)
		}
		return nil
	})
}

// ListActiveSources returns all sources in the active state.
func (s *PostgresStore) ListActiveSources(ctx context.Context) ([]types.LogSource, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sourceColumns+` FROM log_sources WHERE status = $1 ORDER BY created_at`,
		types.SourceStatusActive)
	if err != nil {
		return nil, trace.Wrap(convertError(err))
	}
	defer rows.Close()

	var sources []types.LogSource
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		sources = append(sources, source)
	}
	return sources, trace.Wrap(rows.Err())
}

// GetLogFile returns the file by ID.
func (s *PostgresStore) GetLogFile(ctx context.Context, id string) (types.LogFile, error) {
	var file types.LogFile
	err := s.pool.QueryRow(ctx,
		`SELECT id, site_id, COALESCE(source_id, ''), filename, size_bytes,
			sha256, storage_key, status, uploaded_at
		 FROM log_files WHERE id = $1`, id,
	).Scan(&file.ID, &file.SiteID, &file.SourceID, &file.Filename, &file.SizeBytes,
		&file.SHA256, &file.StorageKey, &file.Status, &file.UploadedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.LogFile{}, trace.NotFound("log file %q not found", id)
		}
		return types.LogFile{}, trace.Wrap(convertError(err))
	}
	return file, nil
}

// CreateLogFile inserts a new file record.
func (s *PostgresStore) CreateLogFile(ctx context.Context, file types.LogFile) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO log_files (id, site_id, source_id, filename, size_bytes,
			sha256, storage_key, status, uploaded_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)`,
		file.ID, file.SiteID, file.SourceID, file.Filename, file.SizeBytes,
		file.SHA256, file.StorageKey, file.Status, file.UploadedAt)
	return trace.Wrap(convertError(err))
}

// UpdateLogFile replaces the stored file record.
func (s *PostgresStore) UpdateLogFile(ctx context.Context, file types.LogFile) error {
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx,
			`UPDATE log_files SET filename = $2, size_bytes = $3, sha256 = $4,
				storage_key = $5, status = $6
			 WHERE id = $1`,
			file.ID, file.Filename, file.SizeBytes, file.SHA256,
			file.StorageKey, file.Status)
		if err != nil {
			return convertError(err)
		}
		if tag.RowsAffected() == 0 {
			return trace.NotFound("log file %q not found", file.ID)
		}
		return nil
	})
}

// GetJob returns the job by ID.
func (s *PostgresStore) GetJob(ctx context.Context, id string) (types.Job, error) {
	var job types.Job
	err := s.pool.QueryRow(ctx,
		`SELECT id, log_file_id, job_type, status, progress, started_at,
			completed_at, COALESCE(result_summary, ''), COALESCE(error_message, ''),
			created_at
		 FROM jobs WHERE id = $1`, id,
	).Scan(&job.ID, &job.LogFileID, &job.Type, &job.Status, &job.Progress,
		&job.StartedAt, &job.CompletedAt, &job.ResultSummary, &job.ErrorMessage,
		&job.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Job{}, trace.NotFound("job %q not found", id)
		}
		return types.Job{}, trace.Wrap(convertError(err))
	}
	return job, nil
}

// CreateJob inserts a new job.
func (s *PostgresStore) CreateJob(ctx context.Context, job types.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.cfg.Clock.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, log_file_id, job_type, status, progress,
			started_at, completed_at, result_summary, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10)`,
		job.ID, job.LogFileID, job.Type, job.Status, job.Progress,
		job.StartedAt, job.CompletedAt, job.ResultSummary, job.ErrorMessage,
		job.CreatedAt)
	return trace.Wrap(convertError(err))
}

// UpdateJob replaces the stored job.
func (s *PostgresStore) UpdateJob(ctx context.Context, job types.Job) error {
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx,
			`UPDATE jobs SET status = $2, progress = $3, started_at = $4,
				completed_at = $5, result_summary = NULLIF($6, ''),
				error_message = NULLIF($7, '')
			 WHERE id = $1`,
			job.ID, job.Status, job.Progress, job.StartedAt,
			job.CompletedAt, job.ResultSummary, job.ErrorMessage)
		if err != nil {
			return convertError(err)
		}
		if tag.RowsAffected() == 0 {
			return trace.NotFound("job %q not found", job.ID)
		}
		return nil
	})
}

// UpsertAggregates stores one row per (site, logfile, hour), replacing
// any prior rows for the same logfile.
func (s *PostgresStore) UpsertAggregates(ctx context.Context, siteID, logFileID string, buckets []aggregate.BucketSummary) error {
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			return insertAggregates(ctx, tx, siteID, logFileID, buckets)
		})
	})
}

func insertAggregates(ctx context.Context, tx pgx.Tx, siteID, logFileID string, buckets []aggregate.BucketSummary) error {
	if _, err := tx.Exec(ctx,
		`DELETE FROM hourly_aggregates WHERE log_file_id = $1`, logFileID); err != nil {
		return convertError(err)
	}
	for i := range buckets {
		b := &buckets[i]
		topPaths, err := marshalJSON(b.TopPaths)
		if err != nil {
			return trace.Wrap(err)
		}
		topIPs, err := marshalJSON(b.TopIPs)
		if err != nil {
			return trace.Wrap(err)
		}
		topAgents, err := marshalJSON(b.TopUserAgents)
		if err != nil {
			return trace.Wrap(err)
		}
		topStatus, err := marshalJSON(b.TopStatusCodes)
		if err != nil {
			return trace.Wrap(err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO hourly_aggregates (site_id, log_file_id, hour_bucket,
				requests_count, status_2xx, status_3xx, status_4xx, status_5xx,
				total_bytes, unique_ips, unique_paths,
				top_paths, top_ips, top_user_agents, top_status_codes)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			siteID, logFileID, b.Hour,
			b.Requests, b.Status2xx, b.Status3xx, b.Status4xx, b.Status5xx,
			b.TotalBytes, b.UniqueIPs, b.UniquePaths,
			topPaths, topIPs, topAgents, topStatus); err != nil {
			return convertError(err)
		}
	}
	return nil
}

// InsertFindings stores the findings.
func (s *PostgresStore) InsertFindings(ctx context.Context, findings []types.Finding) error {
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			return insertFindings(ctx, tx, findings)
		})
	})
}

func insertFindings(ctx context.Context, tx pgx.Tx, findings []types.Finding) error {
	for i := range findings {
		f := &findings[i]
		evidence, err := marshalJSON(f.Evidence)
		if err != nil {
			return trace.Wrap(err)
		}
		metadata, err := marshalJSON(f.Metadata)
		if err != nil {
			return trace.Wrap(err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO findings (id, site_id, log_file_id, finding_type,
				severity, title, description, evidence, suggested_action,
				metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)`,
			f.ID, f.SiteID, f.LogFileID, f.Type,
			f.Severity, f.Title, f.Description, evidence, f.SuggestedAction,
			metadata, f.CreatedAt); err != nil {
			return convertError(err)
		}
	}
	return nil
}

// SaveAnalysis stores a file's aggregates and findings in one
// transaction.
func (s *PostgresStore) SaveAnalysis(ctx context.Context, siteID, logFileID string, buckets []aggregate.BucketSummary, findings []types.Finding) error {
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if err := insertAggregates(ctx, tx, siteID, logFileID, buckets); err != nil {
				return trace.Wrap(err)
			}
			return trace.Wrap(insertFindings(ctx, tx, findings))
		})
	})
}

// LoadBaselineSnapshots returns the site's hourly snapshots with
// hour >= fromHour, ordered by hour ascending.
func (s *PostgresStore) LoadBaselineSnapshots(ctx context.Context, siteID string, fromHour time.Time) ([]anomaly.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT hour_bucket, requests_count, status_5xx, unique_ips, top_paths
		 FROM hourly_aggregates
		 WHERE site_id = $1 AND hour_bucket >= $2
		 ORDER BY hour_bucket ASC`, siteID, fromHour)
	if err != nil {
		return nil, trace.Wrap(convertError(err))
	}
	defer rows.Close()

	var snapshots []anomaly.Snapshot
	for rows.Next() {
		var snap anomaly.Snapshot
		var topPaths []byte
		if err := rows.Scan(&snap.Hour, &snap.Requests, &snap.Status5xx,
			&snap.UniqueIPs, &topPaths); err != nil {
			return nil, trace.Wrap(err)
		}
		if err := json.Unmarshal(topPaths, &snap.TopPaths); err != nil {
			return nil, trace.BadParameter("corrupt top paths for hour %v: %v", snap.Hour, err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, trace.Wrap(rows.Err())
}

// UpsertErrorGroup inserts the group or widens the existing
// (site, fingerprint) row.
func (s *PostgresStore) UpsertErrorGroup(ctx context.Context, group types.ErrorGroup) (types.ErrorGroup, error) {
	if group.ID == "" {
		return types.ErrorGroup{}, trace.BadParameter("missing parameter ID")
	}
	var stored types.ErrorGroup
	err := s.withConflictRetry(ctx, func(ctx context.Context) error {
		var deploymentID *string
		err := s.pool.QueryRow(ctx,
			`INSERT INTO error_groups (id, site_id, fingerprint, error_type,
				error_message, first_seen, last_seen, occurrence_count, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (site_id, fingerprint) DO UPDATE SET
				first_seen = LEAST(error_groups.first_seen, EXCLUDED.first_seen),
				last_seen = GREATEST(error_groups.last_seen, EXCLUDED.last_seen),
				occurrence_count = error_groups.occurrence_count + EXCLUDED.occurrence_count
			 RETURNING id, site_id, fingerprint, error_type, error_message,
				first_seen, last_seen, occurrence_count, status, resolved_at,
				deployment_id`,
			group.ID, group.SiteID, group.Fingerprint, group.ErrorType,
			group.ErrorMessage, group.FirstSeen, group.LastSeen,
			group.OccurrenceCount, types.ErrorGroupUnresolved,
		).Scan(&stored.ID, &stored.SiteID, &stored.Fingerprint, &stored.ErrorType,
			&stored.ErrorMessage, &stored.FirstSeen, &stored.LastSeen,
			&stored.OccurrenceCount, &stored.Status, &stored.ResolvedAt,
			&deploymentID)
		if err != nil {
			return convertError(err)
		}
		if deploymentID != nil {
			stored.DeploymentID = *deploymentID
		}
		return nil
	})
	if err != nil {
		return types.ErrorGroup{}, trace.Wrap(err)
	}
	return stored, nil
}

// InsertOccurrences appends error occurrence rows.
func (s *PostgresStore) InsertOccurrences(ctx context.Context, occurrences []types.ErrorOccurrence) error {
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			for i := range occurrences {
				o := &occurrences[i]
				contextData, err := marshalJSON(o.Context)
				if err != nil {
					return trace.Wrap(err)
				}
				if _, err := tx.Exec(ctx,
					`INSERT INTO error_occurrences (id, error_group_id, log_file_id,
						occurred_at, error_type, error_message, stack_trace,
						file_path, line_number, function_name, request_url,
						request_method, user_id, ip_address, user_agent, context)
					 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''),
						NULLIF($8, ''), $9, NULLIF($10, ''), NULLIF($11, ''),
						NULLIF($12, ''), NULLIF($13, ''), NULLIF($14, ''),
						NULLIF($15, ''), $16)`,
					o.ID, o.GroupID, o.LogFileID,
					o.Timestamp, o.ErrorType, o.ErrorMessage, o.StackTrace,
					o.FilePath, o.LineNumber, o.FunctionName, o.RequestURL,
					o.RequestMethod, o.UserID, o.IPAddress, o.UserAgent,
					contextData); err != nil {
					return convertError(err)
				}
			}
			return nil
		})
	})
}
