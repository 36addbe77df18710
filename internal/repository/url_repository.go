package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flashlink/shortener/internal/model"
)

var (
	ErrNotFound     = errors.New("url mapping not found")
	ErrCodeConflict = errors.New("short code already exists")
)

var tracer = otel.Tracer("github.com/flashlink/shortener/internal/repository")

// URLRepository is the system of record for URL mappings. All writes go
// through conditional or atomic statements keyed by short code, so
// concurrent writers to the same code are resolved by Postgres, never by
// in-process locks.
type URLRepository struct {
	db *pgxpool.Pool
}

// NewURLRepository creates a new URL repository.
func NewURLRepository(db *pgxpool.Pool) *URLRepository {
	return &URLRepository{db: db}
}

// Ping checks database connectivity.
func (r *URLRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Create inserts a new mapping. The unique index on short_code makes this
// an atomic insert-if-absent: a duplicate code comes back as
// ErrCodeConflict so the allocator can retry with a fresh identifier.
func (r *URLRepository) Create(ctx context.Context, m *model.URLMapping) error {
	ctx, span := tracer.Start(ctx, "db.insert",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "INSERT"),
			attribute.String("db.sql.table", "url_mappings"),
			attribute.String("short_code", m.ShortCode),
		),
	)
	defer span.End()

	query := `
		INSERT INTO url_mappings (id, short_code, original_url, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, active
	`
	err := r.db.QueryRow(
		ctx,
		query,
		m.ID,
		m.ShortCode,
		m.OriginalURL,
		m.ExpiresAt,
	).Scan(&m.CreatedAt, &m.Active)

	if err != nil {
		span.RecordError(err)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrCodeConflict
		}
		return err
	}

	return nil
}

// GetByCode retrieves a mapping by its short code.
func (r *URLRepository) GetByCode(ctx context.Context, code string) (*model.URLMapping, error) {
	ctx, span := tracer.Start(ctx, "db.select",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "SELECT"),
			attribute.String("db.sql.table", "url_mappings"),
			attribute.String("short_code", code),
		),
	)
	defer span.End()

	query := `
		SELECT id, short_code, original_url, created_at, expires_at,
		       redirect_count, last_redirect_at, active
		FROM url_mappings
		WHERE short_code = $1`
	var m model.URLMapping
	err := r.db.QueryRow(ctx, query, code).Scan(
		&m.ID,
		&m.ShortCode,
		&m.OriginalURL,
		&m.CreatedAt,
		&m.ExpiresAt,
		&m.RedirectCount,
		&m.LastRedirectAt,
		&m.Active,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, err
	}
	return &m, nil
}

// List returns mappings ordered by creation time, newest first.
func (r *URLRepository) List(ctx context.Context, limit, offset int) ([]model.URLMapping, error) {
	ctx, span := tracer.Start(ctx, "db.select",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "SELECT"),
			attribute.String("db.sql.table", "url_mappings"),
		),
	)
	defer span.End()

	query := `
		SELECT id, short_code, original_url, created_at, expires_at,
		       redirect_count, last_redirect_at, active
		FROM url_mappings
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`
	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var mappings []model.URLMapping
	for rows.Next() {
		var m model.URLMapping
		if err := rows.Scan(
			&m.ID,
			&m.ShortCode,
			&m.OriginalURL,
			&m.CreatedAt,
			&m.ExpiresAt,
			&m.RedirectCount,
			&m.LastRedirectAt,
			&m.Active,
		); err != nil {
			span.RecordError(err)
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// Delete removes a mapping by its short code.
func (r *URLRepository) Delete(ctx context.Context, code string) error {
	ctx, span := tracer.Start(ctx, "db.delete",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "DELETE"),
			attribute.String("db.sql.table", "url_mappings"),
			attribute.String("short_code", code),
		),
	)
	defer span.End()

	query := `DELETE FROM url_mappings WHERE short_code = $1`
	result, err := r.db.Exec(ctx, query, code)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate marks a mapping inactive. The WHERE clause is conditional on
// active so concurrent reapers cause no double effects; it reports whether
// this call was the one that flipped the flag.
func (r *URLRepository) Deactivate(ctx context.Context, code string) (bool, error) {
	ctx, span := tracer.Start(ctx, "db.update",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "UPDATE"),
			attribute.String("db.sql.table", "url_mappings"),
			attribute.String("short_code", code),
		),
	)
	defer span.End()

	query := `UPDATE url_mappings SET active = FALSE WHERE short_code = $1 AND active`
	result, err := r.db.Exec(ctx, query, code)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// FindExpired returns short codes whose expiry has passed but are still
// marked active, up to limit.
func (r *URLRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "db.select",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "SELECT"),
			attribute.String("db.sql.table", "url_mappings"),
		),
	)
	defer span.End()

	query := `
		SELECT short_code
		FROM url_mappings
		WHERE active AND expires_at IS NOT NULL AND expires_at < $1
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			span.RecordError(err)
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// ApplyClicks applies a batch of click rollups in one round trip. The
// counter update is an atomic in-place increment and last_redirect_at is
// clamped with GREATEST, so redeliveries can overcount but never move a
// counter backwards.
func (r *URLRepository) ApplyClicks(ctx context.Context, rollups []model.ClickRollup) error {
	if len(rollups) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "db.update_batch",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "UPDATE"),
			attribute.String("db.sql.table", "url_mappings"),
			attribute.Int("batch_size", len(rollups)),
		),
	)
	defer span.End()

	query := `
		UPDATE url_mappings
		SET redirect_count = redirect_count + $2,
		    last_redirect_at = GREATEST(COALESCE(last_redirect_at, 'epoch'::timestamptz), $3)
		WHERE short_code = $1`

	batch := &pgx.Batch{}
	for _, ru := range rollups {
		batch.Queue(query, ru.ShortCode, ru.Count, ru.LastAt)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rollups {
		if _, err := results.Exec(); err != nil {
			span.RecordError(err)
			return err
		}
	}
	return nil
}

// AggregateStats summarizes the whole table in a single query.
func (r *URLRepository) AggregateStats(ctx context.Context) (*model.AggregateStatsResponse, error) {
	ctx, span := tracer.Start(ctx, "db.select",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "SELECT"),
			attribute.String("db.sql.table", "url_mappings"),
		),
	)
	defer span.End()

	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE active),
		       COALESCE(SUM(redirect_count), 0)
		FROM url_mappings`
	var stats model.AggregateStatsResponse
	if err := r.db.QueryRow(ctx, query).Scan(
		&stats.TotalMappings,
		&stats.ActiveMappings,
		&stats.TotalRedirects,
	); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &stats, nil
}
