package store

const schema = `
CREATE TABLE IF NOT EXISTS tables (
    name       TEXT PRIMARY KEY,
    data       TEXT NOT NULL DEFAULT '',
    updated_at DATETIME NOT NULL
);
`
