package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayusman/ewaste/internal/detector"
)

// Upload is a processed image or video.
type Upload struct {
	FileID        string
	OriginalName  string
	Ext           string
	IsVideo       bool
	UploadPath    string
	ProcessedPath string
	Width         int
	Height        int
	Duration      float64
	Detections    []detector.Detection
	CreatedAt     time.Time
}

// UploadRepository provides CRUD operations for uploads.
type UploadRepository struct {
	db *sql.DB
}

// Uploads returns the upload repository for this store.
func (s *Store) Uploads() *UploadRepository {
	return &UploadRepository{db: s.db}
}

const uploadColumns = `file_id, original_name, ext, is_video, upload_path, processed_path,
	width, height, duration, detections, created_at`

// Create inserts a new upload. CreatedAt is set to now when zero.
func (r *UploadRepository) Create(u *Upload) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}

	dets := u.Detections
	if dets == nil {
		dets = []detector.Detection{}
	}
	payload, err := json.Marshal(dets)
	if err != nil {
		return fmt.Errorf("encode detections: %w", err)
	}

	_, err = r.db.Exec(
		`INSERT INTO uploads (`+uploadColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.FileID, u.OriginalName, u.Ext, u.IsVideo, u.UploadPath, u.ProcessedPath,
		u.Width, u.Height, u.Duration, string(payload), u.CreatedAt.UnixMilli(),
	)
	return err
}

// GetByID retrieves an upload by its file id.
func (r *UploadRepository) GetByID(fileID string) (*Upload, error) {
	row := r.db.QueryRow(`SELECT `+uploadColumns+` FROM uploads WHERE file_id = ?`, fileID)

	u, err := scanUpload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// ListOlderThan returns uploads created before cutoff, oldest first.
func (r *UploadRepository) ListOlderThan(cutoff time.Time) ([]*Upload, error) {
	rows, err := r.db.Query(
		`SELECT `+uploadColumns+` FROM uploads WHERE created_at < ? ORDER BY created_at ASC`,
		cutoff.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []*Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return uploads, nil
}

// Delete removes an upload by its file id.
func (r *UploadRepository) Delete(fileID string) error {
	result, err := r.db.Exec(`DELETE FROM uploads WHERE file_id = ?`, fileID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(row scanner) (*Upload, error) {
	u := &Upload{}
	var payload string
	var createdAt int64

	err := row.Scan(&u.FileID, &u.OriginalName, &u.Ext, &u.IsVideo, &u.UploadPath, &u.ProcessedPath,
		&u.Width, &u.Height, &u.Duration, &payload, &createdAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(payload), &u.Detections); err != nil {
		return nil, fmt.Errorf("decode detections for %s: %w", u.FileID, err)
	}
	u.CreatedAt = time.UnixMilli(createdAt)
	return u, nil
}
