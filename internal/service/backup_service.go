package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"bananaclash/internal/database"
)

const backupVersion = "2.0"

// BackupData is a snapshot of every live state document
type BackupData struct {
	Version      string           `json:"version"`
	ExportedAt   time.Time        `json:"exported_at"`
	DatabaseType string           `json:"database_type"`
	Documents    []DocumentBackup `json:"documents"`
}

// DocumentBackup is one state document, for example rooms/ABC123
type DocumentBackup struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Version   int64           `json:"version"`
	UpdatedAt int64           `json:"updated_at"`
}

// BackupService exports and restores the shared state tree
type BackupService struct {
	db  *database.DB
	log zerolog.Logger
}

// NewBackupService creates a new backup service
func NewBackupService(db *database.DB, log zerolog.Logger) *BackupService {
	return &BackupService{db: db, log: log.With().Str("component", "backup").Logger()}
}

// Export writes a backup of the database to outputPath
func (s *BackupService) Export(ctx context.Context, outputPath string) (int, error) {
	file, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	n, err := s.ExportToWriter(ctx, file)
	if err != nil {
		return 0, err
	}
	s.log.Info().Str("path", outputPath).Int("documents", n).Msg("Database exported")
	return n, nil
}

// ExportToWriter encodes every live document to w and returns how many were written
func (s *BackupService) ExportToWriter(ctx context.Context, w io.Writer) (int, error) {
	backup := &BackupData{
		Version:      backupVersion,
		ExportedAt:   time.Now().UTC(),
		DatabaseType: s.db.Dialect.DriverName(),
	}
	if err := s.exportDocuments(ctx, backup); err != nil {
		return 0, fmt.Errorf("failed to export documents: %w", err)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(backup); err != nil {
		return 0, fmt.Errorf("failed to encode backup: %w", err)
	}
	return len(backup.Documents), nil
}

func (s *BackupService) exportDocuments(ctx context.Context, backup *BackupData) error {
	query := "SELECT doc_key, value, version, updated_at FROM state_docs WHERE value IS NOT NULL ORDER BY doc_key"
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var d DocumentBackup
		var value string
		if err := rows.Scan(&d.Key, &value, &d.Version, &d.UpdatedAt); err != nil {
			return err
		}
		if !json.Valid([]byte(value)) {
			s.log.Warn().Str("key", d.Key).Msg("Skipping document with invalid JSON")
			continue
		}
		d.Value = json.RawMessage(value)
		backup.Documents = append(backup.Documents, d)
	}
	return rows.Err()
}

// Import restores documents from the backup at inputPath
func (s *BackupService) Import(ctx context.Context, inputPath string, replace bool) (int, error) {
	file, err := os.Open(inputPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open input file: %w", err)
	}
	defer file.Close()
	return s.ImportFromReader(ctx, file, replace)
}

// ImportFromReader restores documents from r in one transaction. Restored
// documents get a version above any existing one so live subscribers see
// the change. With replace, documents, sessions and disconnect hooks not
// in the backup are dropped first.
func (s *BackupService) ImportFromReader(ctx context.Context, r io.Reader, replace bool) (int, error) {
	var backup BackupData
	if err := json.NewDecoder(r).Decode(&backup); err != nil {
		return 0, fmt.Errorf("failed to decode backup: %w", err)
	}
	s.log.Info().
		Str("version", backup.Version).
		Time("exported_at", backup.ExportedAt).
		Int("documents", len(backup.Documents)).
		Msg("Importing backup")

	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		if replace {
			if err := clearState(ctx, tx); err != nil {
				return err
			}
		}
		for _, d := range backup.Documents {
			if err := importDocument(ctx, tx, d); err != nil {
				return fmt.Errorf("failed to import document %s: %w", d.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info().Int("documents", len(backup.Documents)).Msg("Database import completed")
	return len(backup.Documents), nil
}

func clearState(ctx context.Context, tx database.DBTX) error {
	for _, table := range []string{"store_disconnect_ops", "store_sessions"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear table %s: %w", table, err)
		}
	}
	// Tombstone instead of delete so pollers notice the removal
	_, err := tx.ExecContext(ctx, "UPDATE state_docs SET value = NULL, version = version + 1 WHERE value IS NOT NULL")
	if err != nil {
		return fmt.Errorf("failed to clear documents: %w", err)
	}
	return nil
}

func importDocument(ctx context.Context, tx database.DBTX, d DocumentBackup) error {
	if d.Key == "" || !json.Valid(d.Value) {
		return fmt.Errorf("invalid document")
	}
	var current int64
	err := tx.QueryRowContext(ctx, "SELECT version FROM state_docs WHERE doc_key = ?", d.Key).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			"INSERT INTO state_docs (doc_key, value, version, updated_at) VALUES (?, ?, ?, ?)",
			d.Key, string(d.Value), max(d.Version, 1), d.UpdatedAt)
		return err
	case err != nil:
		return err
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE state_docs SET value = ?, version = ?, updated_at = ? WHERE doc_key = ?",
		string(d.Value), max(current, d.Version)+1, d.UpdatedAt, d.Key)
	return err
}
