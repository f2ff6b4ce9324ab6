package db

const schemaSQL = `
-- ===========================================================================
-- DEVICES (device record store)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS devices (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  stable_device_id TEXT NOT NULL UNIQUE,
  display_name TEXT NOT NULL,
  token TEXT NOT NULL UNIQUE,
  viewport_w INTEGER NOT NULL DEFAULT 1920,
  viewport_h INTEGER NOT NULL DEFAULT 1080,
  kiosk_mode INTEGER NOT NULL DEFAULT 1,
  assigned_playlist_id INTEGER,
  created_at TEXT NOT NULL DEFAULT (datetime('now')),
  FOREIGN KEY (assigned_playlist_id) REFERENCES playlists(id) ON DELETE SET NULL
);

CREATE INDEX IF NOT EXISTS idx_devices_token ON devices(token);
CREATE INDEX IF NOT EXISTS idx_devices_playlist ON devices(assigned_playlist_id);

-- ===========================================================================
-- PLAYLISTS
-- ===========================================================================

CREATE TABLE IF NOT EXISTS playlists (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at TEXT NOT NULL DEFAULT (datetime('now')),
  updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS playlist_items (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  playlist_id INTEGER NOT NULL,
  content_id INTEGER,
  url TEXT NOT NULL,
  duration_seconds INTEGER NOT NULL DEFAULT 15,
  order_index INTEGER NOT NULL,
  time_window_start TEXT,
  time_window_end TEXT,
  days_of_week TEXT,
  FOREIGN KEY (playlist_id) REFERENCES playlists(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_playlist_items_playlist ON playlist_items(playlist_id, order_index);

-- ===========================================================================
-- LICENSES
-- ===========================================================================

CREATE TABLE IF NOT EXISTS licenses (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  key TEXT NOT NULL UNIQUE,
  key_hash TEXT NOT NULL,
  tier TEXT NOT NULL,
  max_devices INTEGER NOT NULL DEFAULT 0,
  current_device_count INTEGER NOT NULL DEFAULT 0,
  company_name TEXT,
  is_active INTEGER NOT NULL DEFAULT 1,
  expires_at TEXT,
  grace_started_at TEXT,
  notes TEXT,
  created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_licenses_active ON licenses(is_active, max_devices);

-- ===========================================================================
-- BROADCAST OVERRIDE STATE
-- ===========================================================================

CREATE TABLE IF NOT EXISTS device_broadcast_state (
  device_id INTEGER PRIMARY KEY,
  saved_playlist_id INTEGER,
  saved_item_index INTEGER NOT NULL DEFAULT 0,
  saved_elapsed_ms INTEGER NOT NULL DEFAULT 0,
  broadcast_url TEXT NOT NULL,
  started_at TEXT NOT NULL,
  expires_at TEXT,
  FOREIGN KEY (device_id) REFERENCES devices(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_broadcast_expires ON device_broadcast_state(expires_at);

-- ===========================================================================
-- SCREENSHOTS
-- ===========================================================================

CREATE TABLE IF NOT EXISTS screenshots (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  device_stable_id TEXT NOT NULL,
  current_url TEXT,
  image_jpeg_base64 TEXT NOT NULL,
  created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_screenshots_device ON screenshots(device_stable_id, created_at);

-- ===========================================================================
-- AUDIT EVENTS
-- ===========================================================================

CREATE TABLE IF NOT EXISTS audit_events (
  event_id TEXT PRIMARY KEY,
  timestamp TEXT NOT NULL,
  level TEXT NOT NULL DEFAULT 'INFO',
  type TEXT NOT NULL,
  message TEXT NOT NULL,
  device_id TEXT,
  source TEXT,
  stack_trace TEXT,
  payload TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_events_device ON audit_events(device_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_events_level ON audit_events(level, timestamp);
`
