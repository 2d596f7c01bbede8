package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// nextReferenceTx issues the next reference number for (warehouse, type).
// The counter row stays locked until tx ends, so concurrent issuers for the
// same key serialize and never share a number.
func nextReferenceTx(ctx context.Context, tx pgx.Tx, warehouseID int64, t TransactionType) (string, error) {
	var shortCode string
	err := tx.QueryRow(ctx, `SELECT short_code FROM warehouses WHERE id = $1`, warehouseID).Scan(&shortCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", notFoundErrorf("warehouse %d not found", warehouseID)
		}
		return "", fmt.Errorf("failed to fetch warehouse short code: %w", err)
	}

	var seq int64
	err = tx.QueryRow(ctx, `
		INSERT INTO reference_sequences (warehouse_id, txn_type, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (warehouse_id, txn_type)
		DO UPDATE SET last_number = reference_sequences.last_number + 1
		RETURNING last_number
	`, warehouseID, string(t)).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("failed to generate reference sequence: %w", err)
	}

	return FormatReference(shortCode, t, seq), nil
}

// FormatReference renders {warehouse}/{IN|OUT|INT|ADJ}/{seq}.
func FormatReference(shortCode string, t TransactionType, seq int64) string {
	return fmt.Sprintf("%s/%s/%d", shortCode, referenceCodes[t], seq)
}

// ParseReference splits a reference number produced by FormatReference.
func ParseReference(ref string) (shortCode string, t TransactionType, seq int64, err error) {
	parts := strings.Split(ref, "/")
	if len(parts) != 3 || parts[0] == "" {
		return "", "", 0, validationErrorf("malformed reference number %q", ref)
	}
	for typ, code := range referenceCodes {
		if code == parts[1] {
			t = typ
		}
	}
	if t == "" {
		return "", "", 0, validationErrorf("unknown transaction code %q in reference %q", parts[1], ref)
	}
	seq, convErr := strconv.ParseInt(parts[2], 10, 64)
	if convErr != nil || seq <= 0 {
		return "", "", 0, validationErrorf("invalid sequence in reference %q", ref)
	}
	return parts[0], t, seq, nil
}
