package nonceledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Schema is the DDL for the nonces table (§6.2). Sponsor is stored as the
// 20-byte address rather than its hex string so ordering and equality are
// unambiguous.
const Schema = `
CREATE TABLE IF NOT EXISTS nonces (
	chain_id TEXT    NOT NULL,
	sponsor  BLOB    NOT NULL,
	high     INTEGER NOT NULL,
	low      INTEGER NOT NULL,
	PRIMARY KEY (chain_id, sponsor, high, low)
);
`

// SQLReader is a Reader backed by a modernc.org/sqlite database (§6.2). It
// has no write methods; store.SQLStore's admission commit writes through
// the package-level InsertTx.
type SQLReader struct {
	db *sql.DB
}

// NewSQLReader wraps an open database handle. Callers must have already
// applied Schema.
func NewSQLReader(db *sql.DB) *SQLReader {
	return &SQLReader{db: db}
}

func (r *SQLReader) GenerateNext(ctx context.Context, chainID string, sponsor common.Address) (Tuple, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT high, low FROM nonces WHERE chain_id = ? AND sponsor = ? ORDER BY high, low`,
		chainID, sponsor.Bytes(),
	)
	if err != nil {
		return Tuple{}, fmt.Errorf("nonceledger: query existing nonces: %w", err)
	}
	defer rows.Close()

	var sorted []Tuple
	for rows.Next() {
		var t Tuple
		if err := rows.Scan(&t.High, &t.Low); err != nil {
			return Tuple{}, fmt.Errorf("nonceledger: scan nonce row: %w", err)
		}
		sorted = append(sorted, t)
	}
	if err := rows.Err(); err != nil {
		return Tuple{}, fmt.Errorf("nonceledger: iterate nonce rows: %w", err)
	}

	return FindGap(sorted), nil
}

func (r *SQLReader) IsUsed(ctx context.Context, chainID string, sponsor common.Address, t Tuple) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM nonces WHERE chain_id = ? AND sponsor = ? AND high = ? AND low = ?`,
		chainID, sponsor.Bytes(), t.High, t.Low,
	).Scan(&exists)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, fmt.Errorf("nonceledger: query nonce: %w", err)
	default:
		return true, nil
	}
}

// InsertTx inserts a tuple within the caller's transaction, used by
// store.SQLStore's atomic admission commit (§4.6 step 5). It uses INSERT OR
// IGNORE and checks the affected row count rather than parsing
// driver-specific constraint errors, so it stays portable across SQL
// drivers.
func InsertTx(ctx context.Context, tx *sql.Tx, chainID string, sponsor common.Address, t Tuple) error {
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO nonces (chain_id, sponsor, high, low) VALUES (?, ?, ?, ?)`,
		chainID, sponsor.Bytes(), t.High, t.Low,
	)
	if err != nil {
		return fmt.Errorf("nonceledger: insert nonce: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("nonceledger: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNonceTaken
	}
	return nil
}
