package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrBuildNotRunning is returned when finishing a build that already reached a terminal state
var ErrBuildNotRunning = errors.New("build is not running")

const buildColumns = `build_id, status, started_at, completed_at, seeders_count, nodes_count, error_message`

// CreateBuild appends a RUNNING build record to the history
func (s *Storage) CreateBuild(ctx context.Context, build *GraphBuild) error {
	if build.Status != BuildRunning {
		return fmt.Errorf("new build %s must be %s, got %s", build.ID, BuildRunning, build.Status)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_builds (build_id, status, started_at, seeders_count)
		VALUES (?, ?, ?, ?)
	`, build.ID, string(build.Status), build.StartedAt.UTC(), build.SeedersCount)
	if err != nil {
		return fmt.Errorf("failed to create build: %w", err)
	}
	return nil
}

// FinishBuild moves a RUNNING build to its terminal state. The transition happens at most once.
func (s *Storage) FinishBuild(ctx context.Context, build *GraphBuild) error {
	if !build.IsTerminal() {
		return fmt.Errorf("cannot finish build %s with status %s", build.ID, build.Status)
	}

	var completedAt any
	if build.CompletedAt != nil {
		completedAt = build.CompletedAt.UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE graph_builds
		SET status = ?, completed_at = ?, nodes_count = ?, error_message = ?
		WHERE build_id = ? AND status = ?
	`, string(build.Status), completedAt, build.NodesCount, build.ErrorMessage, build.ID, string(BuildRunning))
	if err != nil {
		return fmt.Errorf("failed to finish build: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrBuildNotRunning, build.ID)
	}
	return nil
}

// GetBuild retrieves a build by ID, returns nil if not found
func (s *Storage) GetBuild(ctx context.Context, buildID string) (*GraphBuild, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+buildColumns+` FROM graph_builds WHERE build_id = ?`, buildID)
	build, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build: %w", err)
	}
	return build, nil
}

// ListBuilds returns up to limit builds, most recent first
func (s *Storage) ListBuilds(ctx context.Context, limit int) ([]GraphBuild, error) {
	if limit <= 0 {
		return []GraphBuild{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+buildColumns+`
		FROM graph_builds
		ORDER BY started_at DESC, seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer rows.Close()

	builds := make([]GraphBuild, 0, limit)
	for rows.Next() {
		build, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build: %w", err)
		}
		builds = append(builds, *build)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating builds: %w", err)
	}
	return builds, nil
}

// LatestBuild returns the most recently started build, or nil if there is none
func (s *Storage) LatestBuild(ctx context.Context) (*GraphBuild, error) {
	builds, err := s.ListBuilds(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(builds) == 0 {
		return nil, nil
	}
	return &builds[0], nil
}

// FailStaleBuilds marks builds left RUNNING by a previous process as FAILED
func (s *Storage) FailStaleBuilds(ctx context.Context, reason string, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE graph_builds
		SET status = ?, completed_at = ?, error_message = ?
		WHERE status = ?
	`, string(BuildFailed), at.UTC(), reason, string(BuildRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale builds: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(row rowScanner) (*GraphBuild, error) {
	var (
		build        GraphBuild
		status       string
		completedAt  sql.NullTime
		nodesCount   sql.NullInt64
		errorMessage sql.NullString
	)

	if err := row.Scan(&build.ID, &status, &build.StartedAt, &completedAt, &build.SeedersCount, &nodesCount, &errorMessage); err != nil {
		return nil, err
	}

	build.Status = BuildStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		build.CompletedAt = &t
	}
	if nodesCount.Valid {
		n := int(nodesCount.Int64)
		build.NodesCount = &n
	}
	if errorMessage.Valid {
		msg := errorMessage.String
		build.ErrorMessage = &msg
	}
	return &build, nil
}
