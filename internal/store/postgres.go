package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/paddock/race-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) UpsertScheme(ctx context.Context, scheme *model.Scheme) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO schemes (id, players_count, updated_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE
			 SET players_count = EXCLUDED.players_count,
			     updated_at = EXCLUDED.updated_at`,
			int64(scheme.ID), scheme.PlayersCount, scheme.UpdatedAt,
		)
		if err != nil {
			return err
		}

		// Rewards are replaced, not appended.
		if _, err := tx.Exec(ctx,
			`DELETE FROM scheme_rewards WHERE scheme_id = $1`, int64(scheme.ID)); err != nil {
			return err
		}
		for _, r := range scheme.Rewards {
			if _, err := tx.Exec(ctx,
				`INSERT INTO scheme_rewards (scheme_id, place, multiplier)
				 VALUES ($1, $2, $3::NUMERIC)`,
				int64(scheme.ID), r.Place, r.Multiplier.String()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetScheme(ctx context.Context, id uint64) (*model.Scheme, error) {
	var sc model.Scheme
	var schemeID int64

	err := s.pool.QueryRow(ctx,
		`SELECT id, players_count, updated_at FROM schemes WHERE id = $1`, int64(id)).
		Scan(&schemeID, &sc.PlayersCount, &sc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSchemeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scheme %d: %w", id, err)
	}
	sc.ID = uint64(schemeID)

	rewards, err := s.schemeRewards(ctx, id)
	if err != nil {
		return nil, err
	}
	sc.Rewards = rewards
	return &sc, nil
}

func (s *PostgresStore) ListSchemes(ctx context.Context) ([]model.Scheme, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, players_count, updated_at FROM schemes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schemes []model.Scheme
	for rows.Next() {
		var sc model.Scheme
		var schemeID int64
		if err := rows.Scan(&schemeID, &sc.PlayersCount, &sc.UpdatedAt); err != nil {
			return nil, err
		}
		sc.ID = uint64(schemeID)
		schemes = append(schemes, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range schemes {
		rewards, err := s.schemeRewards(ctx, schemes[i].ID)
		if err != nil {
			return nil, err
		}
		schemes[i].Rewards = rewards
	}
	return schemes, nil
}

func (s *PostgresStore) schemeRewards(ctx context.Context, schemeID uint64) ([]model.Reward, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT place, multiplier::TEXT FROM scheme_rewards
		 WHERE scheme_id = $1 ORDER BY place`, int64(schemeID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRewards(rows)
}

func (s *PostgresStore) CreateRace(ctx context.Context, race *model.Race) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO races
			   (id, bet_amount, duration, start_time, end_time,
			    started, finished, cancelled,
			    scheme_id, scheme_players_count, players_assigned, created_at)
			 VALUES ($1, $2::NUMERIC, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			int64(race.ID), race.BetAmount.String(), race.Duration,
			race.StartTime, race.EndTime,
			race.Started, race.Finished, race.Cancelled,
			int64(race.Scheme.ID), race.Scheme.PlayersCount,
			race.PlayersAssigned, race.CreatedAt,
		)
		if err != nil {
			return err
		}
		for _, r := range race.Scheme.Rewards {
			if _, err := tx.Exec(ctx,
				`INSERT INTO race_rewards (race_id, place, multiplier)
				 VALUES ($1, $2, $3::NUMERIC)`,
				int64(race.ID), r.Place, r.Multiplier.String()); err != nil {
				return err
			}
		}
		return nil
	})
	if isUniqueViolation(err) {
		return ErrRaceExists
	}
	return err
}

func (s *PostgresStore) GetRace(ctx context.Context, id uint64) (*model.Race, error) {
	var r model.Race
	var raceID, schemeID int64
	var betAmount string

	err := s.pool.QueryRow(ctx,
		`SELECT id, bet_amount::TEXT, duration, start_time, end_time,
		        started, finished, cancelled,
		        scheme_id, scheme_players_count, players_assigned, created_at
		 FROM races WHERE id = $1`, int64(id)).
		Scan(&raceID, &betAmount, &r.Duration, &r.StartTime, &r.EndTime,
			&r.Started, &r.Finished, &r.Cancelled,
			&schemeID, &r.Scheme.PlayersCount, &r.PlayersAssigned, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get race %d: %w", id, err)
	}
	r.ID = uint64(raceID)
	r.Scheme.ID = uint64(schemeID)
	r.BetAmount, _ = decimal.NewFromString(betAmount)

	rows, err := s.pool.Query(ctx,
		`SELECT place, multiplier::TEXT FROM race_rewards
		 WHERE race_id = $1 ORDER BY place`, int64(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if r.Scheme.Rewards, err = scanRewards(rows); err != nil {
		return nil, err
	}

	r.Bettors = make(map[model.Address]bool)
	r.Revoked = make(map[model.Address]bool)

	players, err := s.pool.Query(ctx,
		`SELECT player, revoked FROM race_players WHERE race_id = $1`, int64(id))
	if err != nil {
		return nil, err
	}
	defer players.Close()
	for players.Next() {
		var raw string
		var revoked bool
		if err := players.Scan(&raw, &revoked); err != nil {
			return nil, err
		}
		addr, err := model.ParseAddress(raw)
		if err != nil {
			return nil, err
		}
		r.Bettors[addr] = true
		if revoked {
			r.Revoked[addr] = true
		}
	}
	return &r, players.Err()
}

func (s *PostgresStore) ListRaces(ctx context.Context) ([]model.Race, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM races ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, uint64(id))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	races := make([]model.Race, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRace(ctx, id)
		if err != nil {
			return nil, err
		}
		races = append(races, *r)
	}
	return races, nil
}

func (s *PostgresStore) RecordBet(ctx context.Context, raceID uint64, player model.Address) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO race_players (race_id, player, revoked)
			 VALUES ($1, $2, FALSE)`,
			int64(raceID), player.Hex()); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE races SET players_assigned = players_assigned + 1 WHERE id = $1`,
			int64(raceID))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrRaceNotFound
		}
		return nil
	})
}

func (s *PostgresStore) RecordRevocation(ctx context.Context, raceID uint64, player model.Address) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO race_players (race_id, player, revoked)
		 VALUES ($1, $2, TRUE)
		 ON CONFLICT (race_id, player) DO UPDATE SET revoked = TRUE`,
		int64(raceID), player.Hex())
	return err
}

func (s *PostgresStore) SetStarted(ctx context.Context, raceID uint64, startTime int64) error {
	return s.setFlag(ctx,
		`UPDATE races SET started = TRUE, start_time = $2 WHERE id = $1`,
		int64(raceID), startTime)
}

func (s *PostgresStore) SetCancelled(ctx context.Context, raceID uint64) error {
	return s.setFlag(ctx,
		`UPDATE races SET cancelled = TRUE WHERE id = $1`, int64(raceID))
}

func (s *PostgresStore) SetFinished(ctx context.Context, raceID uint64, endTime int64) error {
	return s.setFlag(ctx,
		`UPDATE races SET finished = TRUE, end_time = $2 WHERE id = $1`,
		int64(raceID), endTime)
}

func (s *PostgresStore) setFlag(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRaceNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// scanRewards reads (place, multiplier::TEXT) rows into a reward list.
func scanRewards(rows pgx.Rows) ([]model.Reward, error) {
	var rewards []model.Reward
	for rows.Next() {
		var r model.Reward
		var mult string
		if err := rows.Scan(&r.Place, &mult); err != nil {
			return nil, err
		}
		r.Multiplier, _ = decimal.NewFromString(mult)
		rewards = append(rewards, r)
	}
	return rewards, rows.Err()
}
