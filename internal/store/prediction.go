package store

import (
	"database/sql"
	"time"
)

// DefaultHistoryLimit bounds ListRecent when no limit is given.
const DefaultHistoryLimit = 50

// Prediction is a stored classifier result.
type Prediction struct {
	ID         int64
	Filename   string
	ClassID    int
	ClassName  string
	Confidence float64
	CreatedAt  time.Time
}

// PredictionRepository records classifier history.
type PredictionRepository struct {
	db *sql.DB
}

// Predictions returns the prediction repository for this store.
func (s *Store) Predictions() *PredictionRepository {
	return &PredictionRepository{db: s.db}
}

// Create inserts p and fills in its ID.
func (r *PredictionRepository) Create(p *Prediction) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	result, err := r.db.Exec(
		`INSERT INTO predictions (filename, class_id, class_name, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		p.Filename, p.ClassID, p.ClassName, p.Confidence, p.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return err
	}

	p.ID, err = result.LastInsertId()
	return err
}

// ListRecent returns up to limit predictions, newest first.
func (r *PredictionRepository) ListRecent(limit int) ([]*Prediction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := r.db.Query(
		`SELECT id, filename, class_id, class_name, confidence, created_at
		 FROM predictions ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	predictions := []*Prediction{}
	for rows.Next() {
		p := &Prediction{}
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.Filename, &p.ClassID, &p.ClassName, &p.Confidence, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt = time.UnixMilli(createdAt)
		predictions = append(predictions, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return predictions, nil
}
