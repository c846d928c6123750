package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Mmmuuieddd/gamblefi-backend/internal/domain"
)

// EventRepository handles all database operations for the event log.  The
// table is append-only; the only mutation is the symmetric correlation link
// between a settlement and its originating commit.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Ping reports store reachability for the health surface.
func (r *EventRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Append inserts a decoded event and returns its id.  No uniqueness is
// enforced on (block_number, log_index): duplicate deliveries under retry
// are tolerated rather than rejected.
func (r *EventRepository) Append(ctx context.Context, e *domain.EventRecord) (uuid.UUID, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO events
			(id, event_type, room_id, player, block_number, block_timestamp,
			 log_index, tx_hash,
			 amount_wei, bet_big, commit_block, reveal_block,
			 reward_wei, won, hash_value, block_hash, result_block, bet_id,
			 related_event_id, processed, created_at)
		VALUES
			(:id, :event_type, :room_id, :player, :block_number, :block_timestamp,
			 :log_index, :tx_hash,
			 :amount_wei, :bet_big, :commit_block, :reveal_block,
			 :reward_wei, :won, :hash_value, :block_hash, :result_block, :bet_id,
			 :related_event_id, :processed, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, e); err != nil {
		return uuid.Nil, fmt.Errorf("event_repo.Append: %w", err)
	}
	return e.ID, nil
}

// LatestUnprocessedPlaced returns the most recent unlinked BetPlaced for the
// given (roomId, player), the correlation target for an incoming settlement.
func (r *EventRepository) LatestUnprocessedPlaced(ctx context.Context, roomID uint32, player string) (*domain.EventRecord, error) {
	var e domain.EventRecord
	err := r.db.GetContext(ctx, &e, `
		SELECT * FROM events
		WHERE event_type = $1 AND room_id = $2 AND player = $3 AND processed = false
		ORDER BY block_number DESC, log_index DESC
		LIMIT 1`,
		domain.EventBetPlaced, roomID, domain.NormalizePlayer(player))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, fmt.Errorf("event_repo.LatestUnprocessedPlaced: %w", err)
	}
	return &e, nil
}

// Link sets the symmetric related_event_id on both records and marks them
// processed, inside one transaction so the link is never half-written.
// Returns ErrEventAlreadyLinked when the commit side was linked before, which
// happens when a replayed settlement races its first delivery past the
// in-memory dedupe.
func (r *EventRepository) Link(ctx context.Context, placedID, settledID uuid.UUID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("event_repo.Link: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var res sql.Result
	if res, err = tx.ExecContext(ctx, `
		UPDATE events SET related_event_id = $1, processed = true
		WHERE id = $2 AND processed = false`,
		settledID, placedID); err != nil {
		return fmt.Errorf("event_repo.Link: update placed: %w", err)
	}
	if n, raErr := res.RowsAffected(); raErr == nil && n == 0 {
		err = fmt.Errorf("event_repo.Link: placed %s: %w", placedID, domain.ErrEventAlreadyLinked)
		return err
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE events SET related_event_id = $1, processed = true WHERE id = $2`,
		placedID, settledID); err != nil {
		return fmt.Errorf("event_repo.Link: update settled: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("event_repo.Link: commit: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Query-layer reads
// ──────────────────────────────────────────────────────────────────────────────

// SettledByPlayer returns a player's settlement records, newest first.
func (r *EventRepository) SettledByPlayer(ctx context.Context, player string, limit, offset int) ([]*domain.EventRecord, error) {
	var events []*domain.EventRecord
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM events
		WHERE event_type = $1 AND player = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		domain.EventBetSettled, domain.NormalizePlayer(player), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("event_repo.SettledByPlayer: %w", err)
	}
	return events, nil
}

// SettledByRoom returns a room's settlement records, newest first.
func (r *EventRepository) SettledByRoom(ctx context.Context, roomID uint32, limit, offset int) ([]*domain.EventRecord, error) {
	var events []*domain.EventRecord
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM events
		WHERE event_type = $1 AND room_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		domain.EventBetSettled, roomID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("event_repo.SettledByRoom: %w", err)
	}
	return events, nil
}

// FindByIDs fetches a batch of records keyed by id, used to join settlements
// to their linked commits in one round trip.
func (r *EventRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.EventRecord, error) {
	result := make(map[uuid.UUID]*domain.EventRecord, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM events WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("event_repo.FindByIDs: build query: %w", err)
	}
	query = r.db.Rebind(query)

	var events []*domain.EventRecord
	if err = r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("event_repo.FindByIDs: %w", err)
	}
	for _, e := range events {
		result[e.ID] = e
	}
	return result, nil
}

// CountByType returns the number of stored records of one event type.
func (r *EventRepository) CountByType(ctx context.Context, t domain.EventType) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM events WHERE event_type = $1`, t); err != nil {
		return 0, fmt.Errorf("event_repo.CountByType: %w", err)
	}
	return n, nil
}

// CountOrphanSettlements counts settlements that never found their commit.
// Surfaced on /status for operator diagnosis.
func (r *EventRepository) CountOrphanSettlements(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM events
		WHERE event_type = $1 AND processed = false`,
		domain.EventBetSettled); err != nil {
		return 0, fmt.Errorf("event_repo.CountOrphanSettlements: %w", err)
	}
	return n, nil
}
