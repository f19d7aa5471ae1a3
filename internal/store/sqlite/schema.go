package sqlite

// schema mirrors the Postgres schema. Quantities are stored as decimal text
// and summed in Go; timestamps are RFC 3339 text in UTC.
const schema = `
CREATE TABLE IF NOT EXISTS branches (
    id                     INTEGER PRIMARY KEY,
    company_id             INTEGER NOT NULL,
    code                   TEXT NOT NULL,
    name                   TEXT NOT NULL,
    default_cost_center_id INTEGER
);

CREATE TABLE IF NOT EXISTS warehouses (
    id         INTEGER PRIMARY KEY,
    company_id INTEGER NOT NULL,
    branch_id  INTEGER NOT NULL REFERENCES branches(id),
    code       TEXT NOT NULL,
    name       TEXT NOT NULL,
    UNIQUE (company_id, code)
);

CREATE TABLE IF NOT EXISTS user_assignments (
    company_id   INTEGER NOT NULL,
    user_id      INTEGER NOT NULL,
    role         TEXT NOT NULL,
    branch_id    INTEGER NOT NULL,
    warehouse_id INTEGER REFERENCES warehouses(id),
    PRIMARY KEY (company_id, user_id)
);

CREATE TABLE IF NOT EXISTS transfer_number_seq (
    company_id INTEGER NOT NULL,
    day        TEXT NOT NULL,
    last_value INTEGER NOT NULL,
    PRIMARY KEY (company_id, day)
);

CREATE TABLE IF NOT EXISTS transfers (
    id                       INTEGER PRIMARY KEY,
    company_id               INTEGER NOT NULL,
    number                   TEXT NOT NULL,
    status                   TEXT NOT NULL,
    source_warehouse_id      INTEGER NOT NULL,
    destination_warehouse_id INTEGER NOT NULL,
    source_branch_id         INTEGER NOT NULL,
    destination_branch_id    INTEGER NOT NULL,
    transfer_date            TEXT NOT NULL,
    expected_arrival_date    TEXT,
    received_at              TEXT,
    notes                    TEXT NOT NULL DEFAULT '',
    rejection_reason         TEXT,
    created_by               INTEGER NOT NULL,
    approved_by              INTEGER,
    received_by              INTEGER,
    rejected_by              INTEGER,
    rejected_at              TEXT,
    created_at               TEXT NOT NULL,
    updated_at               TEXT NOT NULL,
    UNIQUE (company_id, number),
    CHECK (source_warehouse_id <> destination_warehouse_id)
);

CREATE INDEX IF NOT EXISTS transfers_company_status_idx ON transfers (company_id, status);

CREATE TABLE IF NOT EXISTS transfer_lines (
    id            INTEGER PRIMARY KEY,
    transfer_id   INTEGER NOT NULL REFERENCES transfers(id) ON DELETE CASCADE,
    line_no       INTEGER NOT NULL,
    product_id    INTEGER NOT NULL,
    qty_requested TEXT NOT NULL,
    qty_sent      TEXT,
    qty_received  TEXT,
    note          TEXT NOT NULL DEFAULT '',
    UNIQUE (transfer_id, line_no)
);

CREATE TABLE IF NOT EXISTS inventory_ledger (
    id             INTEGER PRIMARY KEY,
    product_id     INTEGER NOT NULL,
    warehouse_id   INTEGER NOT NULL,
    branch_id      INTEGER NOT NULL,
    cost_center_id INTEGER NOT NULL,
    kind           TEXT NOT NULL,
    qty_change     TEXT NOT NULL,
    ref_module     TEXT NOT NULL,
    ref_id         INTEGER NOT NULL,
    ref_line_id    INTEGER NOT NULL DEFAULT 0,
    note           TEXT NOT NULL DEFAULT '',
    posted_at      TEXT NOT NULL,
    created_by     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS inventory_ledger_stock_idx ON inventory_ledger (product_id, warehouse_id, id);
CREATE INDEX IF NOT EXISTS inventory_ledger_ref_idx ON inventory_ledger (ref_module, ref_id, kind);
CREATE UNIQUE INDEX IF NOT EXISTS inventory_ledger_transfer_line_kind_uq
    ON inventory_ledger (ref_module, ref_id, ref_line_id, kind) WHERE ref_module = 'transfer';

CREATE TRIGGER IF NOT EXISTS inventory_ledger_no_update BEFORE UPDATE ON inventory_ledger
BEGIN
    SELECT RAISE(ABORT, 'inventory_ledger is append-only');
END;

CREATE TRIGGER IF NOT EXISTS inventory_ledger_no_delete BEFORE DELETE ON inventory_ledger
BEGIN
    SELECT RAISE(ABORT, 'inventory_ledger is append-only');
END;

CREATE TABLE IF NOT EXISTS audit_logs (
    id          INTEGER PRIMARY KEY,
    actor_id    INTEGER NOT NULL,
    action      TEXT NOT NULL,
    entity      TEXT NOT NULL,
    entity_id   TEXT NOT NULL,
    meta        TEXT,
    occurred_at TEXT NOT NULL
);
`
