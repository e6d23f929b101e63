package services

import (
	"context"
	"errors"
	"strings"

	"github.com/quizdesk/quizstore/internal/store"
	"github.com/quizdesk/quizstore/types"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRegistrationClosed = errors.New("self registration is disabled")
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetUser(ctx context.Context, username string) (types.User, error)
	CreateUser(ctx context.Context, user types.User) (types.User, error)
	SaveUser(ctx context.Context, user types.User) error
	DeleteUser(ctx context.Context, username string) error
	RecordLogin(ctx context.Context, username string) error
	BoolSetting(ctx context.Context, key string, def bool) (bool, error)
}

// Registration is the input for a new account.
type Registration struct {
	Username string `json:"username" validate:"required,max=64"`
	Name     string `json:"name" validate:"max=128"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// UserService encapsulates account use-cases.
type UserService struct {
	repo       UserRepository
	bcryptCost int
	log        zerolog.Logger
}

func NewUserService(repo UserRepository, bcryptCost int, log zerolog.Logger) *UserService {
	return &UserService{
		repo:       repo,
		bcryptCost: bcryptCost,
		log:        log.With().Str("component", "users").Logger(),
	}
}

func (s *UserService) Get(ctx context.Context, username string) (types.User, error) {
	return s.repo.GetUser(ctx, username)
}

// Register creates an operator account when self registration is enabled.
func (s *UserService) Register(ctx context.Context, reg Registration) (types.User, error) {
	open, err := s.repo.BoolSetting(ctx, types.SettingSelfRegistration, true)
	if err != nil {
		return types.User{}, err
	}
	if !open {
		return types.User{}, ErrRegistrationClosed
	}
	return s.create(ctx, reg, types.RoleOperator)
}

// CreateAdmin creates an administrator account regardless of settings.
func (s *UserService) CreateAdmin(ctx context.Context, reg Registration) (types.User, error) {
	return s.create(ctx, reg, types.RoleAdministrator)
}

func (s *UserService) create(ctx context.Context, reg Registration, role string) (types.User, error) {
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Name = strings.TrimSpace(reg.Name)
	if err := types.Validate(reg); err != nil {
		return types.User{}, err
	}

	hashed, err := HashPassword(reg.Password, s.bcryptCost)
	if err != nil {
		return types.User{}, err
	}
	name := reg.Name
	if name == "" {
		name = reg.Username
	}
	return s.repo.CreateUser(ctx, types.User{
		Username:     reg.Username,
		PasswordHash: hashed,
		Name:         name,
		Role:         role,
	})
}

// Authenticate verifies credentials and stamps the login time. Accounts
// still holding a legacy digest are rehashed with bcrypt.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (types.User, error) {
	username = strings.TrimSpace(username)
	user, err := s.repo.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return types.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return types.User{}, err
	}

	ok, legacy := CheckPassword(user.PasswordHash, password)
	if !ok {
		return types.User{}, ErrInvalidCredentials
	}
	if legacy {
		if hashed, err := HashPassword(password, s.bcryptCost); err == nil {
			user.PasswordHash = hashed
			if err := s.repo.SaveUser(ctx, user); err != nil {
				s.log.Warn().Err(err).Str("username", username).Msg("upgrade legacy password hash")
			}
		}
	}

	if err := s.repo.RecordLogin(ctx, username); err != nil {
		return types.User{}, err
	}
	return s.repo.GetUser(ctx, username)
}

// ChangePassword replaces the password after checking the current one.
func (s *UserService) ChangePassword(ctx context.Context, username, current, next string) error {
	user, err := s.repo.GetUser(ctx, username)
	if err != nil {
		return err
	}
	if ok, _ := CheckPassword(user.PasswordHash, current); !ok {
		return ErrInvalidCredentials
	}
	if err := types.Validate(Registration{Username: username, Password: next}); err != nil {
		return err
	}
	hashed, err := HashPassword(next, s.bcryptCost)
	if err != nil {
		return err
	}
	user.PasswordHash = hashed
	return s.repo.SaveUser(ctx, user)
}

func (s *UserService) Delete(ctx context.Context, username string) error {
	return s.repo.DeleteUser(ctx, username)
}
