package filestore

import (
	"context"
	"fmt"
	"time"

	"github.com/quizdesk/quizstore/internal/store"
	"github.com/quizdesk/quizstore/types"
)

func (s *Store) LoadUsers(ctx context.Context) (map[string]types.User, error) {
	doc, err := s.readUsers("load_users")
	if err != nil {
		return nil, err
	}
	return doc.strict("load_users")
}

// SaveUsers replaces the users document. Scores owned by users that are
// no longer present are removed first.
func (s *Store) SaveUsers(ctx context.Context, users map[string]types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.dropScores("save_users", func(sc types.Score) bool {
		_, ok := users[sc.Username]
		return !ok
	}); err != nil {
		return err
	}
	return s.writeUsers("save_users", users)
}

func (s *Store) GetUser(ctx context.Context, username string) (types.User, error) {
	users, err := s.LoadUsers(ctx)
	if err != nil {
		return types.User{}, err
	}
	user, ok := users[username]
	if !ok {
		return types.User{}, store.E(store.ModeFile, "get_user", store.ErrNotFound, nil)
	}
	return user, nil
}

func (s *Store) CreateUser(ctx context.Context, user types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.LoadUsers(ctx)
	if err != nil {
		return err
	}
	if _, ok := users[user.Username]; ok {
		return store.E(store.ModeFile, "create_user", store.ErrConstraintViolation,
			fmt.Errorf("username %q already exists", user.Username))
	}
	users[user.Username] = user
	return s.writeUsers("create_user", users)
}

func (s *Store) UpdateUser(ctx context.Context, user types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.LoadUsers(ctx)
	if err != nil {
		return err
	}
	if _, ok := users[user.Username]; !ok {
		return store.E(store.ModeFile, "update_user", store.ErrNotFound, nil)
	}
	users[user.Username] = user
	return s.writeUsers("update_user", users)
}

// DeleteUser removes the user's scores before the user so an interrupted
// delete never leaves orphaned scores.
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.LoadUsers(ctx)
	if err != nil {
		return err
	}
	if _, ok := users[username]; !ok {
		return store.E(store.ModeFile, "delete_user", store.ErrNotFound, nil)
	}
	if err := s.dropScores("delete_user", func(sc types.Score) bool {
		return sc.Username == username
	}); err != nil {
		return err
	}
	delete(users, username)
	return s.writeUsers("delete_user", users)
}

func (s *Store) TouchLogin(ctx context.Context, username string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.LoadUsers(ctx)
	if err != nil {
		return err
	}
	user, ok := users[username]
	if !ok {
		return store.E(store.ModeFile, "touch_login", store.ErrNotFound, nil)
	}
	user.LastLogin = &at
	users[username] = user
	return s.writeUsers("touch_login", users)
}
