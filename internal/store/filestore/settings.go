package filestore

import (
	"context"

	"github.com/quizdesk/quizstore/internal/store"
	"github.com/quizdesk/quizstore/types"
)

func (s *Store) LoadSettings(ctx context.Context) (map[string]types.Setting, error) {
	doc, err := s.readSettings("load_settings")
	if err != nil {
		return nil, err
	}
	return doc.strict("load_settings")
}

func (s *Store) SaveSettings(ctx context.Context, settings map[string]types.Setting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeSettings("save_settings", settings)
}

func (s *Store) GetSetting(ctx context.Context, key string) (types.Setting, error) {
	settings, err := s.LoadSettings(ctx)
	if err != nil {
		return types.Setting{}, err
	}
	setting, ok := settings[key]
	if !ok {
		return types.Setting{}, store.E(store.ModeFile, "get_setting", store.ErrNotFound, nil)
	}
	return setting, nil
}

func (s *Store) PutSetting(ctx context.Context, setting types.Setting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.LoadSettings(ctx)
	if err != nil {
		return err
	}
	settings[setting.Key] = setting
	return s.writeSettings("put_setting", settings)
}
