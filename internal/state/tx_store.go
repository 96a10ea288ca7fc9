package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/superlend/superfund-core/internal/types"
)

// TransactionStore persists intent lifecycles to the transaction_records
// table. It satisfies the orchestrator's RecordStore interface.
type TransactionStore struct{}

// NewTransactionStore returns a store backed by the global connection pool.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{}
}

// InsertTransactionRecord inserts the row for a freshly created intent and
// returns its record ID.
func (s *TransactionStore) InsertTransactionRecord(record types.TransactionRecord) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var recordID int64
	err := DB.QueryRow(`
		INSERT INTO transaction_records (intent_id, kind, amount_micro, counterparty, chain_id, phase, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING record_id`,
		record.IntentID, string(record.Kind), record.AmountMicro, nullIfEmpty(record.Counterparty),
		record.ChainID, string(record.Phase), record.CreatedAt,
	).Scan(&recordID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transaction record: %w", err)
	}

	return recordID, nil
}

// UpdateTransactionRecord records a phase change for an intent.
func (s *TransactionStore) UpdateTransactionRecord(intentID string, phase types.TxPhase, txHash, errorMessage string) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	result, err := DB.Exec(`
		UPDATE transaction_records
		SET phase = $2, tx_hash = $3, error_message = $4, updated_at = $5
		WHERE intent_id = $1`,
		intentID, string(phase), nullIfEmpty(txHash), nullIfEmpty(errorMessage), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		log.Warn().Str("intentID", intentID).Msg("Phase update matched no transaction record")
	}

	return nil
}

// GetRecentTransactions returns the most recent transaction records, newest
// first.
func GetRecentTransactions(limit int) ([]types.TransactionRecord, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := DB.Query(`
		SELECT record_id, intent_id, kind, amount_micro, COALESCE(counterparty, ''), chain_id,
		       phase, COALESCE(tx_hash, ''), COALESCE(error_message, ''), created_at, updated_at
		FROM transaction_records
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction records: %w", err)
	}
	defer rows.Close()

	var records []types.TransactionRecord
	for rows.Next() {
		var r types.TransactionRecord
		var kind, phase string
		if err := rows.Scan(&r.RecordID, &r.IntentID, &kind, &r.AmountMicro, &r.Counterparty,
			&r.ChainID, &phase, &r.TxHash, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction record: %w", err)
		}
		r.Kind = types.ActionKind(kind)
		r.Phase = types.TxPhase(phase)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction records: %w", err)
	}

	return records, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
