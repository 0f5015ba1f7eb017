package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ReplaceSnapshot writes the nodes of a build, marks the build COMPLETED and
// activates it in one transaction. build must still be RUNNING in the history.
// Nodes of every other build are removed; nothing changes if any step fails.
func (s *Storage) ReplaceSnapshot(ctx context.Context, build *GraphBuild, nodes []NodeRecord) (err error) {
	if build == nil || build.Status != BuildCompleted || build.CompletedAt == nil {
		return fmt.Errorf("snapshot requires a %s build record with a completion time", BuildCompleted)
	}
	buildID := build.ID
	startTime := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logrus.Warnf("Snapshot rollback failed: %v", rbErr)
			}
		}
	}()

	if err = completeBuild(ctx, tx, build, len(nodes)); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM graph_nodes WHERE build_id = ?", buildID); err != nil {
		return fmt.Errorf("failed to clear nodes of build %s: %w", buildID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO graph_nodes (build_id, identifier, depth, followers_d0, followers_d1, followers_d2)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare node insert: %w", err)
	}
	defer stmt.Close()

	for _, node := range nodes {
		if _, err = stmt.ExecContext(ctx, buildID, node.Identifier, node.Depth,
			node.Followers.D0, node.Followers.D1, node.Followers.D2); err != nil {
			return fmt.Errorf("failed to insert node %s: %w", node.Identifier, err)
		}
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO graph_state (id, active_build_id) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET active_build_id = EXCLUDED.active_build_id
	`, buildID); err != nil {
		return fmt.Errorf("failed to activate build %s: %w", buildID, err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM graph_nodes WHERE build_id <> ?", buildID); err != nil {
		return fmt.Errorf("failed to prune previous snapshots: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	logrus.Infof("Snapshot %s written: %d nodes in %v", buildID, len(nodes), time.Since(startTime))
	return nil
}

func completeBuild(ctx context.Context, tx *sql.Tx, build *GraphBuild, nodesCount int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE graph_builds
		SET status = ?, completed_at = ?, nodes_count = ?, error_message = NULL
		WHERE build_id = ? AND status = ?
	`, string(BuildCompleted), build.CompletedAt.UTC(), nodesCount, build.ID, string(BuildRunning))
	if err != nil {
		return fmt.Errorf("failed to complete build %s: %w", build.ID, err)
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

// LoadActiveSnapshot returns the active build ID and its nodes. buildID is empty if no snapshot exists.
func (s *Storage) LoadActiveSnapshot(ctx context.Context) (buildID string, nodes []NodeRecord, err error) {
	err = s.db.QueryRowContext(ctx, "SELECT active_build_id FROM graph_state WHERE id = 1").Scan(&buildID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to read active snapshot: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT identifier, depth, followers_d0, followers_d1, followers_d2
		FROM graph_nodes
		WHERE build_id = ?
		ORDER BY depth ASC, identifier ASC
	`, buildID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load snapshot nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var node NodeRecord
		if err := rows.Scan(&node.Identifier, &node.Depth, &node.Followers.D0, &node.Followers.D1, &node.Followers.D2); err != nil {
			return "", nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, node)
	}

	if err := rows.Err(); err != nil {
		return "", nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	return buildID, nodes, nil
}
