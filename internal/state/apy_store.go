package state

import (
	"fmt"
	"time"

	"github.com/superlend/superfund-core/internal/types"
)

// SaveApySnapshot persists one effective-APY computation and returns its ID.
func SaveApySnapshot(snapshot types.ApySnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var snapshotID int64
	err := DB.QueryRow(`
		INSERT INTO apy_snapshots (base_apy, rewards_apy, global_boost_apy, personal_boost_apy, program_boost_apy, effective_apy, snapshot_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING snapshot_id`,
		snapshot.Components.BaseApy, snapshot.Components.RewardsApy,
		snapshot.Components.GlobalBoostApy, snapshot.Components.PersonalBoostApy,
		snapshot.Components.ProgramBoostApy, snapshot.EffectiveApy, snapshot.Timestamp,
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert APY snapshot: %w", err)
	}

	return snapshotID, nil
}

// GetApyHistory returns snapshots from the trailing window, oldest first.
func GetApyHistory(days int) ([]types.ApySnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if days <= 0 {
		days = 7
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	rows, err := DB.Query(`
		SELECT snapshot_id, base_apy, rewards_apy, global_boost_apy, personal_boost_apy, program_boost_apy, effective_apy, snapshot_time
		FROM apy_snapshots
		WHERE snapshot_time >= $1
		ORDER BY snapshot_time ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query APY snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []types.ApySnapshot
	for rows.Next() {
		var s types.ApySnapshot
		if err := rows.Scan(&s.SnapshotID, &s.Components.BaseApy, &s.Components.RewardsApy,
			&s.Components.GlobalBoostApy, &s.Components.PersonalBoostApy, &s.Components.ProgramBoostApy,
			&s.EffectiveApy, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan APY snapshot: %w", err)
		}
		s.Components.FetchedAt = s.Timestamp
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating APY snapshots: %w", err)
	}

	return snapshots, nil
}
