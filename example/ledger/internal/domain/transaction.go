// Package domain holds the ledger example's business entities.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Transaction is one booked ledger movement. The struct doubles as the
// database row and the Parquet record for exports.
type Transaction struct {
	ID          string `gorm:"primaryKey;size:64" parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Account     string `gorm:"size:64;index" parquet:"name=account, type=BYTE_ARRAY, convertedtype=UTF8"`
	AmountCents int64  `gorm:"not null" parquet:"name=amount_cents, type=INT64"`
	Currency    string `gorm:"size:8" parquet:"name=currency, type=BYTE_ARRAY, convertedtype=UTF8"`
	BookedAt    string `gorm:"size:32;index" parquet:"name=booked_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func (Transaction) TableName() string { return "ledger_transactions" }

// FromCSVRecord maps a CSV record of the shape
// id,account,amount,currency,booked_at to a Transaction. Amounts are decimal
// strings in major units ("12.34") and are stored as cents.
func FromCSVRecord(record []string) (Transaction, error) {
	if len(record) != 5 {
		return Transaction{}, fmt.Errorf("expected 5 fields, got %d", len(record))
	}
	amount, err := parseAmountCents(record[2])
	if err != nil {
		return Transaction{}, fmt.Errorf("invalid amount '%s': %w", record[2], err)
	}
	if _, err := time.Parse("2006-01-02", record[4]); err != nil {
		return Transaction{}, fmt.Errorf("invalid booking date '%s': %w", record[4], err)
	}
	return Transaction{
		ID:          strings.TrimSpace(record[0]),
		Account:     strings.TrimSpace(record[1]),
		AmountCents: amount,
		Currency:    strings.ToUpper(strings.TrimSpace(record[3])),
		BookedAt:    record[4],
	}, nil
}

// PartitionKey places the transaction in its Hive-style daily partition.
func (t Transaction) PartitionKey() (string, error) {
	if t.BookedAt == "" {
		return "", fmt.Errorf("transaction %s has no booking date", t.ID)
	}
	return "dt=" + t.BookedAt, nil
}

// Validate rejects transactions that must not reach the ledger table.
func (t Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("transaction has no id")
	}
	if t.Account == "" {
		return fmt.Errorf("transaction %s has no account", t.ID)
	}
	if len(t.Currency) != 3 {
		return fmt.Errorf("transaction %s has invalid currency '%s'", t.ID, t.Currency)
	}
	return nil
}

func parseAmountCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	switch len(frac) {
	case 0:
		frac = "00"
	case 1:
		frac += "0"
	case 2:
	default:
		return 0, fmt.Errorf("more than two decimal places")
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, err
	}
	cents := w*100 + f
	if neg {
		cents = -cents
	}
	return cents, nil
}
