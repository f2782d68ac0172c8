// Package journal records every completed calibration round in SQLite so
// the solver inputs can be inspected, replayed and plotted after a session.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/colocate/internal/calibration"
	"github.com/banshee-data/colocate/internal/monitoring"
	"github.com/banshee-data/colocate/internal/pose"
	"github.com/banshee-data/colocate/internal/transport"
	"github.com/banshee-data/colocate/internal/wire"
)

var logf = monitoring.Prefixed("journal")

// DefaultLimit caps Rounds when no limit is given.
const DefaultLimit = 100

// ErrNoRounds is returned when there is nothing to plot.
var ErrNoRounds = errors.New("journal: no rounds")

// Journal is the round store. It implements calibration.Sink.
type Journal struct {
	db   *sql.DB
	path string
}

var _ calibration.Sink = (*Journal)(nil)

// Open opens or creates the database at path and applies pending
// migrations.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	j := &Journal{db: db, path: path}
	if err := j.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

// Round is one stored calibration round.
type Round struct {
	ID         uuid.UUID                 `json:"id"`
	Round      int                       `json:"round"`
	RecordedAt time.Time                 `json:"recorded_at"`
	PeerID     transport.PeerID          `json:"peer_id"`
	PeerName   string                    `json:"peer_name"`
	Role       calibration.Role          `json:"role"`
	Local      wire.DualFingerCoordinate `json:"local"`
	Remote     wire.DualFingerCoordinate `json:"remote"`
}

// handPair is the stored form of one side's transforms.
type handPair struct {
	Left  pose.Transform `json:"left"`
	Right pose.Transform `json:"right"`
}

// RecordRound stores c. It is safe to call from any goroutine.
func (j *Journal) RecordRound(ctx context.Context, c calibration.Correspondence) error {
	local, err := json.Marshal(handPair{Left: c.Local.Left, Right: c.Local.Right})
	if err != nil {
		return fmt.Errorf("failed to encode local transforms: %w", err)
	}
	remote, err := json.Marshal(handPair{Left: c.Remote.Left, Right: c.Remote.Right})
	if err != nil {
		return fmt.Errorf("failed to encode remote transforms: %w", err)
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO rounds (
			round_id, round, recorded_at_ms, peer_id, peer_name, role,
			local_unix_ms, remote_unix_ms, local_transforms, remote_transforms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.Round, c.At.UnixMilli(), c.Peer.ID.String(), c.Peer.DisplayName, c.Role.String(),
		c.Local.UnixTime, c.Remote.UnixTime, string(local), string(remote),
	)
	if err != nil {
		return fmt.Errorf("failed to insert round %d: %w", c.Round, err)
	}
	logf("recorded round %d with %s", c.Round, c.Peer)
	return nil
}

// Rounds returns up to limit rounds, newest first. A limit of zero or less
// uses DefaultLimit.
func (j *Journal) Rounds(ctx context.Context, limit int) ([]Round, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT round_id, round, recorded_at_ms, peer_id, peer_name, role,
			local_unix_ms, remote_unix_ms, local_transforms, remote_transforms
		FROM rounds ORDER BY recorded_at_ms DESC, round DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []Round
	for rows.Next() {
		var (
			id, peerID, peerName, role string
			recordedAt                 int64
			local, remote              string
			r                          Round
		)
		if err := rows.Scan(&id, &r.Round, &recordedAt, &peerID, &peerName, &role,
			&r.Local.UnixTime, &r.Remote.UnixTime, &local, &remote); err != nil {
			return nil, err
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("round %d: bad id: %w", r.Round, err)
		}
		if r.PeerID, err = transport.ParsePeerID(peerID); err != nil {
			return nil, fmt.Errorf("round %d: bad peer id: %w", r.Round, err)
		}
		if r.Role, err = calibration.ParseRole(role); err != nil {
			return nil, fmt.Errorf("round %d: %w", r.Round, err)
		}
		var lp, rp handPair
		if err := json.Unmarshal([]byte(local), &lp); err != nil {
			return nil, fmt.Errorf("round %d: bad local transforms: %w", r.Round, err)
		}
		if err := json.Unmarshal([]byte(remote), &rp); err != nil {
			return nil, fmt.Errorf("round %d: bad remote transforms: %w", r.Round, err)
		}
		r.PeerName = peerName
		r.RecordedAt = time.UnixMilli(recordedAt)
		r.Local.Left, r.Local.Right = lp.Left, lp.Right
		r.Remote.Left, r.Remote.Right = rp.Left, rp.Right
		rounds = append(rounds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rounds, nil
}
