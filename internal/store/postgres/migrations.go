package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied once at startup. Every statement is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id BIGSERIAL PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('admin', 'user')),
    balance NUMERIC(18,4) NOT NULL DEFAULT 0 CHECK (balance >= 0),
    is_active BOOLEAN NOT NULL DEFAULT true,
    version INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    seq BIGSERIAL UNIQUE,
    id UUID PRIMARY KEY,
    account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE RESTRICT,
    entry_type TEXT NOT NULL CHECK (entry_type IN ('CREDIT', 'DEBIT')),
    amount NUMERIC(18,4) NOT NULL CHECK (amount > 0),
    balance_before NUMERIC(18,4) NOT NULL,
    balance_after NUMERIC(18,4) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    reference TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (account_id, reference)
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_seq ON ledger_entries(account_id, seq DESC);

CREATE OR REPLACE FUNCTION ledger_entries_immutable() RETURNS trigger AS $$
BEGIN
    RAISE EXCEPTION 'ledger entries are append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_ledger_entries_immutable ON ledger_entries;
CREATE TRIGGER trg_ledger_entries_immutable
    BEFORE UPDATE OR DELETE ON ledger_entries
    FOR EACH ROW EXECUTE FUNCTION ledger_entries_immutable();

CREATE TABLE IF NOT EXISTS call_sessions (
    id BIGSERIAL PRIMARY KEY,
    account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE RESTRICT,
    external_call_id TEXT NOT NULL UNIQUE,
    phone_number TEXT NOT NULL,
    otp TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('INITIATED', 'RINGING', 'COMPLETED', 'FAILED', 'NO_ANSWER', 'BUSY', 'UNAVAILABLE')),
    cost NUMERIC(18,4) NOT NULL DEFAULT 0,
    duration INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    start_time TIMESTAMPTZ,
    ring_time TIMESTAMPTZ,
    answer_time TIMESTAMPTZ,
    end_time TIMESTAMPTZ,
    settled_at TIMESTAMPTZ,
    settlement_note TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (settled_at IS NULL OR status = 'COMPLETED')
);

CREATE INDEX IF NOT EXISTS idx_call_sessions_account_id ON call_sessions(account_id, id DESC);
`

// Migrate brings the schema up to date. It belongs to process startup, never to a request path.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
