package store

// schemaSQL is the DDL for all tables.
const schemaSQL = `
-- Document registry with hash-based change detection
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    filename TEXT NOT NULL,
    kind TEXT NOT NULL,
    format TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Append-only history of processing runs. A re-run inserts a new row and
-- supersedes the old one; old rows are never rewritten.
CREATE TABLE IF NOT EXISTS processing_runs (
    run_id TEXT PRIMARY KEY,
    document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    status TEXT NOT NULL,
    stage TEXT NOT NULL,
    stage_results JSON,
    warnings JSON,
    error TEXT,
    source_hash TEXT NOT NULL,
    started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_document ON processing_runs(document_id, started_at);

-- Verification findings produced by the final stage of a run.
CREATE TABLE IF NOT EXISTS findings (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES processing_runs(run_id) ON DELETE CASCADE,
    agent_kind TEXT NOT NULL,
    subject_ref TEXT NOT NULL,
    verdict TEXT NOT NULL,
    details JSON,
    summary TEXT,
    confidence REAL
);

CREATE INDEX IF NOT EXISTS idx_findings_run ON findings(run_id);

-- Reference values extracted from the tender side, compared against bids.
CREATE TABLE IF NOT EXISTS tender_descriptors (
    document_id TEXT PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
    project_number TEXT NOT NULL,
    project_name TEXT NOT NULL,
    purchaser TEXT,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`
