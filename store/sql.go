package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compactlabs/allocator/bitcodec"
	"github.com/compactlabs/allocator/compact"
	"github.com/compactlabs/allocator/nonceledger"
)

// Schema is the DDL for the compacts table (§6.2). id, nonce, and amount
// are kept as text so the column never truncates a 256-bit value or an
// unbounded-width amount.
const Schema = `
CREATE TABLE IF NOT EXISTS compacts (
	chain_id             TEXT    NOT NULL,
	claim_hash           BLOB    NOT NULL,
	arbiter              BLOB    NOT NULL,
	sponsor              BLOB    NOT NULL,
	nonce_hex            TEXT    NOT NULL,
	expires              INTEGER NOT NULL,
	id_hex               TEXT    NOT NULL,
	amount               TEXT    NOT NULL,
	witness_type_string  TEXT,
	witness_hash         BLOB,
	signature            BLOB    NOT NULL,
	created_at           INTEGER NOT NULL,
	PRIMARY KEY (chain_id, claim_hash)
);
CREATE INDEX IF NOT EXISTS compacts_by_sponsor ON compacts (sponsor, created_at);
`

// SQLStore is a CompactStore backed by a modernc.org/sqlite database.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database handle. Callers must have already
// applied both Schema and nonceledger.Schema, since AdmitTx writes to both
// tables in one transaction.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Lookup(ctx context.Context, chainID string, claimHash common.Hash) (*compact.CompactRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT arbiter, sponsor, nonce_hex, expires, id_hex, amount,
		       witness_type_string, witness_hash, signature, created_at
		FROM compacts WHERE chain_id = ? AND claim_hash = ?`,
		chainID, claimHash.Bytes(),
	)
	rec, err := scanRecord(row, chainID, claimHash)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup: %w", err)
	}
	return rec, nil
}

func (s *SQLStore) ListBySponsor(ctx context.Context, sponsor common.Address) ([]*compact.CompactRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chain_id, claim_hash, arbiter, sponsor, nonce_hex, expires, id_hex, amount,
		       witness_type_string, witness_hash, signature, created_at
		FROM compacts WHERE sponsor = ? ORDER BY created_at DESC`,
		sponsor.Bytes(),
	)
	if err != nil {
		return nil, fmt.Errorf("store: list by sponsor: %w", err)
	}
	defer rows.Close()

	var out []*compact.CompactRecord
	for rows.Next() {
		var (
			chainID                           string
			claimHashBytes, arbiterB, sponsorB []byte
			nonceHex, idHex, amount            string
			expires                            uint64
			witnessTypeString                  sql.NullString
			witnessHashBytes                   []byte
			signature                          []byte
			createdAtUnix                      int64
		)
		if err := rows.Scan(&chainID, &claimHashBytes, &arbiterB, &sponsorB, &nonceHex, &expires, &idHex, &amount,
			&witnessTypeString, &witnessHashBytes, &signature, &createdAtUnix); err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		rec, err := buildRecord(chainID, claimHashBytes, arbiterB, sponsorB, nonceHex, expires, idHex, amount,
			witnessTypeString, witnessHashBytes, signature, createdAtUnix)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, chainID string, claimHash common.Hash) (*compact.CompactRecord, error) {
	var (
		arbiterB, sponsorB []byte
		nonceHex, idHex, amount string
		expires                 uint64
		witnessTypeString        sql.NullString
		witnessHashBytes         []byte
		signature                []byte
		createdAtUnix            int64
	)
	if err := row.Scan(&arbiterB, &sponsorB, &nonceHex, &expires, &idHex, &amount,
		&witnessTypeString, &witnessHashBytes, &signature, &createdAtUnix); err != nil {
		return nil, err
	}
	return buildRecord(chainID, claimHash.Bytes(), arbiterB, sponsorB, nonceHex, expires, idHex, amount,
		witnessTypeString, witnessHashBytes, signature, createdAtUnix)
}

func buildRecord(chainID string, claimHashBytes, arbiterB, sponsorB []byte, nonceHex string, expires uint64,
	idHex string, amount string, witnessTypeString sql.NullString, witnessHashBytes, signature []byte, createdAtUnix int64,
) (*compact.CompactRecord, error) {
	nonce, err := bitcodec.ParseHexString(nonceHex)
	if err != nil {
		return nil, fmt.Errorf("store: corrupt nonce: %w", err)
	}
	id, err := bitcodec.ParseHexString(idHex)
	if err != nil {
		return nil, fmt.Errorf("store: corrupt id: %w", err)
	}
	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("store: corrupt amount: %q", amount)
	}

	c := compact.Compact{
		Arbiter: common.BytesToAddress(arbiterB),
		Sponsor: common.BytesToAddress(sponsorB),
		Nonce:   nonce,
		Expires: expires,
		ID:      id,
		Amount:  amt,
	}
	if witnessTypeString.Valid {
		s := witnessTypeString.String
		c.WitnessTypeString = &s
		h := common.BytesToHash(witnessHashBytes)
		c.WitnessHash = &h
	}

	var sig [65]byte
	copy(sig[:], signature)

	return &compact.CompactRecord{
		ChainID:   chainID,
		Compact:   c,
		ClaimHash: common.BytesToHash(claimHashBytes),
		Signature: sig,
		CreatedAt: time.Unix(createdAtUnix, 0).UTC(),
	}, nil
}

func (s *SQLStore) AdmitTx(ctx context.Context, chainID string, sponsor common.Address, tuple nonceledger.Tuple, rec *compact.CompactRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin admission tx: %w", err)
	}
	defer tx.Rollback()

	if err := nonceledger.InsertTx(ctx, tx, chainID, sponsor, tuple); err != nil {
		return err
	}

	var witnessTypeString any
	var witnessHash any
	if rec.Compact.HasWitness() {
		witnessTypeString = *rec.Compact.WitnessTypeString
		witnessHash = rec.Compact.WitnessHash.Bytes()
	}

	nonceHex := "0x" + bitcodec.HexString(rec.Compact.Nonce)
	idHex := "0x" + bitcodec.HexString(rec.Compact.ID)

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO compacts
			(chain_id, claim_hash, arbiter, sponsor, nonce_hex, expires, id_hex, amount,
			 witness_type_string, witness_hash, signature, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chainID, rec.ClaimHash.Bytes(), rec.Compact.Arbiter.Bytes(), sponsor.Bytes(), nonceHex, rec.Compact.Expires, idHex,
		rec.Compact.Amount.String(), witnessTypeString, witnessHash, rec.Signature[:], rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: insert compact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrDuplicateClaim
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit admission tx: %w", err)
	}
	return nil
}
