package cache

// SchemaVersion is the app version whose consolidated schema this binary
// carries. Migrations between the stored and current version run at startup;
// a stored version newer than this is a downgrade and refuses to start.
const SchemaVersion = "v1.2.0"

const schema = `
-- Journal entries, one row per (user, calendar day)
CREATE TABLE IF NOT EXISTS entries (
    user_id     TEXT NOT NULL,
    day         TEXT NOT NULL,
    content     TEXT NOT NULL DEFAULT '{}',
    iv          TEXT NOT NULL DEFAULT '',
    revision    INTEGER NOT NULL DEFAULT 0,
    sync_status TEXT NOT NULL DEFAULT 'pending_insert',
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    modified_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (user_id, day)
);
CREATE INDEX IF NOT EXISTS idx_entries_status ON entries(user_id, sync_status);

-- Tags, user-scoped; names are not unique
CREATE TABLE IF NOT EXISTS tags (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL,
    name        TEXT NOT NULL,
    color       TEXT NOT NULL DEFAULT 'gray',
    revision    INTEGER NOT NULL DEFAULT 0,
    sync_status TEXT NOT NULL DEFAULT 'pending_insert',
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    modified_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tags_user ON tags(user_id, sync_status);

-- Entry-tag links; order_no is the tag's position within the day
CREATE TABLE IF NOT EXISTS entry_tags (
    user_id     TEXT NOT NULL,
    day         TEXT NOT NULL,
    tag_id      TEXT NOT NULL,
    order_no    INTEGER NOT NULL DEFAULT 0,
    revision    INTEGER NOT NULL DEFAULT 0,
    sync_status TEXT NOT NULL DEFAULT 'pending_insert',
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    modified_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (user_id, day, tag_id)
);
CREATE INDEX IF NOT EXISTS idx_entry_tags_tag ON entry_tags(tag_id);

-- Process-wide settings, including the schema version
CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
