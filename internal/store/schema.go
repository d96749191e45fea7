package store

// Schema v1 - mediaops identity store.
// Table shapes deliberately mirror the established mediaops.sqlite layout so
// existing databases stay readable by this tool.
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One row per batch operation. finished_at stays NULL while the batch runs;
-- a row that is still open afterwards marks an incomplete batch.
CREATE TABLE IF NOT EXISTS runs (
  run_id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  target_root TEXT NULL,
  started_at TEXT NOT NULL,
  finished_at TEXT NULL,
  tool_version TEXT NULL,
  notes TEXT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_kind_started ON runs(kind, started_at);

-- Content identities (hash-based), independent of location
CREATE TABLE IF NOT EXISTS files (
  file_id TEXT PRIMARY KEY,
  size_bytes INTEGER NOT NULL,
  content_hash TEXT NULL,
  hash_algo TEXT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_files_hash ON files(content_hash);

-- Tracked logical locations. path_id is a pure function of the normalized
-- path string; path itself changes over time as the entity moves.
CREATE TABLE IF NOT EXISTS paths (
  path_id TEXT PRIMARY KEY,
  path TEXT NOT NULL UNIQUE,
  drive TEXT NULL,
  dir TEXT NULL,
  name TEXT NULL,
  ext TEXT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_paths_dir ON paths(dir);
CREATE INDEX IF NOT EXISTS idx_paths_ext ON paths(ext);
CREATE INDEX IF NOT EXISTS idx_paths_name ON paths(name);

-- Links a content identity to the locations it has been seen at
CREATE TABLE IF NOT EXISTS file_paths (
  file_id TEXT NOT NULL,
  path_id TEXT NOT NULL,
  is_current INTEGER NOT NULL DEFAULT 1,
  first_seen_run_id TEXT NULL,
  last_seen_run_id TEXT NULL,
  CONSTRAINT uq_file_paths_file_path UNIQUE (file_id, path_id),
  FOREIGN KEY (file_id) REFERENCES files(file_id),
  FOREIGN KEY (path_id) REFERENCES paths(path_id)
);

CREATE INDEX IF NOT EXISTS idx_file_paths_current ON file_paths(is_current);

-- Run-scoped snapshot facts about a path
CREATE TABLE IF NOT EXISTS observations (
  run_id TEXT NOT NULL,
  path_id TEXT NOT NULL,
  size_bytes INTEGER NOT NULL,
  mtime_utc TEXT NULL,
  type TEXT NULL,
  name_flags TEXT NULL,
  CONSTRAINT uq_observations_run_path UNIQUE (run_id, path_id),
  FOREIGN KEY (run_id) REFERENCES runs(run_id),
  FOREIGN KEY (path_id) REFERENCES paths(path_id)
);

CREATE INDEX IF NOT EXISTS idx_obs_run ON observations(run_id);
CREATE INDEX IF NOT EXISTS idx_obs_path ON observations(path_id);

-- Append-only audit trail. Never updated, never deleted; the only record
-- that survives a path merge intact.
CREATE TABLE IF NOT EXISTS events (
  event_id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  ts TEXT NOT NULL,
  kind TEXT NOT NULL,
  src_path_id TEXT NULL,
  dst_path_id TEXT NULL,
  detail_json TEXT NULL,
  ok INTEGER NOT NULL DEFAULT 1,
  error TEXT NULL,
  FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id);
CREATE INDEX IF NOT EXISTS idx_events_kind_ts ON events(kind, ts);
CREATE INDEX IF NOT EXISTS idx_events_src_path ON events(src_path_id);

-- Namespaced labels
CREATE TABLE IF NOT EXISTS tags (
  tag_id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  namespace TEXT NOT NULL DEFAULT 'tablacus',
  CONSTRAINT uq_tags_namespace_name UNIQUE (namespace, name)
);

CREATE TABLE IF NOT EXISTS path_tags (
  path_id TEXT NOT NULL,
  tag_id INTEGER NOT NULL,
  source TEXT NOT NULL DEFAULT 'tablacus',
  updated_at TEXT NOT NULL,
  CONSTRAINT uq_path_tags_triplet UNIQUE (path_id, tag_id, source),
  FOREIGN KEY (path_id) REFERENCES paths(path_id),
  FOREIGN KEY (tag_id) REFERENCES tags(tag_id)
);

CREATE INDEX IF NOT EXISTS idx_path_tags_tag ON path_tags(tag_id);

-- At most one metadata row per path: a later write from any source replaces
-- the earlier one. source and human_reviewed record provenance of the
-- surviving row.
CREATE TABLE IF NOT EXISTS path_metadata (
  path_id TEXT PRIMARY KEY,
  source TEXT NOT NULL,
  data_json TEXT NOT NULL,
  human_reviewed INTEGER NOT NULL DEFAULT 0,
  updated_at TEXT NOT NULL,
  FOREIGN KEY (path_id) REFERENCES paths(path_id)
);
`
