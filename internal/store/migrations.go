package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Uploads table - one row per processed image or video
		`CREATE TABLE IF NOT EXISTS uploads (
			file_id TEXT PRIMARY KEY,
			original_name TEXT NOT NULL,
			ext TEXT NOT NULL,
			is_video INTEGER NOT NULL DEFAULT 0,
			upload_path TEXT NOT NULL,
			processed_path TEXT NOT NULL,
			width INTEGER NOT NULL DEFAULT 0,
			height INTEGER NOT NULL DEFAULT 0,
			duration REAL NOT NULL DEFAULT 0,
			detections TEXT NOT NULL DEFAULT '[]',
			created_at INTEGER NOT NULL
		)`,

		// Predictions table - classifier history
		`CREATE TABLE IF NOT EXISTS predictions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT NOT NULL,
			class_id INTEGER NOT NULL,
			class_name TEXT NOT NULL,
			confidence REAL NOT NULL,
			created_at INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_uploads_created_at ON uploads(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
