package app

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/quizdesk/quizstore/internal/migration"
)

// ErrNoBackupStorage is returned when backup storage is disabled.
var ErrNoBackupStorage = errors.New("backup storage is not configured")

// ListBackups returns the migration backups held in backup storage, oldest
// first.
func (a *App) ListBackups(ctx context.Context) ([]string, error) {
	if a.Backups == nil {
		return nil, ErrNoBackupStorage
	}
	return a.Backups.Backups(ctx, migration.BackupPrefix)
}

// Restore copies every document of backup back into the data directory and
// returns the restored document names. An empty backup restores the newest.
func (a *App) Restore(ctx context.Context, backup string) ([]string, error) {
	if a.Backups == nil {
		return nil, ErrNoBackupStorage
	}
	backup = strings.Trim(backup, "/")
	if backup == "" {
		backups, err := a.ListBackups(ctx)
		if err != nil {
			return nil, err
		}
		if len(backups) == 0 {
			return nil, errors.New("no backups found")
		}
		backup = backups[len(backups)-1]
	}

	objects, err := a.Backups.List(ctx, backup+"/")
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("backup %q not found", backup)
	}

	restored := make([]string, 0, len(objects))
	for _, obj := range objects {
		name := path.Base(obj.Key)
		if err := a.restoreObject(ctx, obj.Key, name); err != nil {
			return restored, fmt.Errorf("restore %s: %w", obj.Key, err)
		}
		restored = append(restored, name)
	}
	a.Log.Info().Str("backup", backup).Strs("documents", restored).Msg("backup restored")
	return restored, nil
}

func (a *App) restoreObject(ctx context.Context, key, name string) error {
	rc, err := a.Backups.Get(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		_ = rc.Close()
	}()
	return a.Files.RestoreDocument(name, rc)
}
