// Package pgrecords reads user records directly from the provider's Postgres
// store. It is the fallback the profile synchronizer uses when the forum
// backend cannot answer.
package pgrecords

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/utils"
	"github.com/longanisha/Mahidol-Forum-sub000/profiles"
	"github.com/longanisha/Mahidol-Forum-sub000/sessions"
)

const selectProfile = `SELECT id, username, avatar_url, total_points, level, created_at FROM profiles WHERE id = $1`

var _ profiles.RecordReader = (*Reader)(nil)

// Querier is the part of a pgx pool or connection the reader needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Reader struct {
	db Querier
}

func New(db Querier) *Reader {
	return &Reader{db: db}
}

// Connect opens a pool on dsn and checks it is reachable.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("[pgrecords Connect] %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("[pgrecords Connect] ping: %w", err)
	}
	return pool, nil
}

// ReadUserRecord returns (nil, nil) when the identity has no row.
func (r *Reader) ReadUserRecord(ctx context.Context, identity sessions.Identity) (*profiles.Profile, error) {
	var (
		id          string
		username    *string
		avatarURL   *string
		totalPoints *int
		level       *int
		createdAt   *time.Time
	)
	err := r.db.QueryRow(ctx, selectProfile, identity.String()).Scan(
		&id, &username, &avatarURL, &totalPoints, &level, &createdAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("[Reader.ReadUserRecord] %w", err)
	}

	record := &profiles.Profile{
		ID:          id,
		Username:    utils.Value(username),
		AvatarURL:   utils.Value(avatarURL),
		TotalPoints: utils.Value(totalPoints),
		Level:       utils.Value(level),
	}
	if createdAt != nil {
		record.CreatedAt = profiles.Timestamp{Time: createdAt.UTC()}
	}
	record.Normalize()
	return record, nil
}
