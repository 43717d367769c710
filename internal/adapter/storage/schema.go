package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrations returns the engine schema. Each string is one statement,
// executed in order; all are idempotent.
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS stock_records (
			product_id  BIGINT NOT NULL,
			location_id BIGINT NOT NULL,
			quantity    INT NOT NULL DEFAULT 0,
			reserved    INT NOT NULL DEFAULT 0,
			updated_at  DATETIME(6) NOT NULL,
			PRIMARY KEY (product_id, location_id)
		)`,

		`CREATE TABLE IF NOT EXISTS stock_log (
			id                BIGINT AUTO_INCREMENT PRIMARY KEY,
			product_id        BIGINT NOT NULL,
			location_id       BIGINT NOT NULL,
			action            VARCHAR(16) NOT NULL,
			amount            INT NOT NULL,
			previous_quantity INT NOT NULL,
			new_quantity      INT NOT NULL,
			actor             VARCHAR(128) NOT NULL,
			created_at        DATETIME(6) NOT NULL,
			KEY idx_stock_log_record (product_id, location_id, id)
		)`,

		`CREATE TABLE IF NOT EXISTS wallets (
			id         CHAR(36) PRIMARY KEY,
			owner_type VARCHAR(16) NOT NULL,
			owner_id   CHAR(36) NOT NULL,
			balance    DECIMAL(20,4) NOT NULL DEFAULT 0,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			UNIQUE KEY uq_wallet_owner (owner_type, owner_id)
		)`,

		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id             CHAR(36) PRIMARY KEY,
			wallet_id      CHAR(36) NOT NULL,
			transaction_id CHAR(36) NULL,
			amount         DECIMAL(20,4) NOT NULL,
			balance_before DECIMAL(20,4) NOT NULL,
			balance_after  DECIMAL(20,4) NOT NULL,
			is_credit      TINYINT(1) NOT NULL,
			description    VARCHAR(255) NOT NULL DEFAULT '',
			created_at     DATETIME(6) NOT NULL,
			KEY idx_ledger_wallet (wallet_id, created_at)
		)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id         CHAR(36) PRIMARY KEY,
			type       VARCHAR(16) NOT NULL,
			amount     DECIMAL(20,4) NOT NULL,
			status     VARCHAR(16) NOT NULL,
			wallet_id  CHAR(36) NOT NULL,
			order_id   CHAR(36) NULL,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			KEY idx_txn_status (status, created_at)
		)`,

		`CREATE TABLE IF NOT EXISTS idempotency_markers (
			marker     VARCHAR(128) PRIMARY KEY,
			created_at DATETIME(6) NOT NULL
		)`,
	}
}

// EnsureSchema applies all migrations.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range Migrations() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
