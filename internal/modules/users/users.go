// ABOUTME: Users module managing accounts and the current-user session
// ABOUTME: Registration and login route through the shared store; tokens come from internal/auth

package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/ordertrack/internal/auth"
	"github.com/2389/ordertrack/internal/model"
	"github.com/2389/ordertrack/internal/store"
)

// State keys owned by this module
const (
	StateKey       = "users"
	CurrentUserKey = "currentUser"
)

// Mutation names
const (
	MutationSetUsers       = "SET_USERS"
	MutationAddUser        = "ADD_USER"
	MutationSetCurrentUser = "SET_CURRENT_USER"
)

// Action names
const (
	ActionRegister = "users/register"
	ActionLogin    = "users/login"
	ActionLogout   = "users/logout"
)

// Getter names
const (
	GetterUsers       = "users"
	GetterCurrentUser = "currentUser"
	GetterUserByName  = "userByName"
	GetterUserByID    = "userByID"
)

// Module errors
var (
	// ErrUserNotFound means no account matches the given name or ID
	ErrUserNotFound = errors.New("user not found")

	// ErrNameTaken means an account with the given name already exists
	ErrNameTaken = errors.New("user name already taken")

	// ErrBadCredentials means login failed; it deliberately does not say why
	ErrBadCredentials = errors.New("bad credentials")

	// ErrInvalidPayload means an action or mutation payload had the wrong shape
	ErrInvalidPayload = errors.New("invalid payload")
)

// Credentials is the payload for users/register and users/login.
type Credentials struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"` // register only; defaults to "member"
}

// Session is the result of a successful users/login dispatch.
type Session struct {
	User  model.User `json:"user"`
	Token string     `json:"token"`
}

// Module wires the users mutations, actions and getters into a store. It
// holds the token issuer so login can mint session JWTs.
type Module struct {
	verifier *auth.JWTVerifier
	tokenTTL time.Duration
	logger   *slog.Logger
}

// New creates the users module. Pass nil logger for default.
func New(verifier *auth.JWTVerifier, tokenTTL time.Duration, logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.Default()
	}
	return &Module{
		verifier: verifier,
		tokenTTL: tokenTTL,
		logger:   logger.With("module", "users"),
	}
}

// fromState reads the user list out of the state record.
func fromState(state store.State) []model.User {
	list, _ := state[StateKey].([]model.User)
	return list
}

// Register installs the users mutations, actions and getters into the store.
func (m *Module) Register(s *store.Store) error {
	mutations := map[string]store.MutationFunc{
		MutationSetUsers: func(state store.State, payload any) error {
			list, ok := payload.([]model.User)
			if !ok {
				return fmt.Errorf("%w: want []model.User", ErrInvalidPayload)
			}
			state[StateKey] = list
			return nil
		},
		MutationAddUser: func(state store.State, payload any) error {
			user, ok := payload.(model.User)
			if !ok {
				return fmt.Errorf("%w: want model.User", ErrInvalidPayload)
			}
			state[StateKey] = append(fromState(state), user)
			return nil
		},
		MutationSetCurrentUser: func(state store.State, payload any) error {
			switch v := payload.(type) {
			case nil:
				state[CurrentUserKey] = nil
			case model.User:
				state[CurrentUserKey] = v
			default:
				return fmt.Errorf("%w: want model.User or nil", ErrInvalidPayload)
			}
			return nil
		},
	}
	for name, fn := range mutations {
		if err := s.RegisterMutation(name, fn); err != nil {
			return fmt.Errorf("registering mutation: %w", err)
		}
	}

	actions := map[string]store.ActionFunc{
		ActionRegister: m.registerAction,
		ActionLogin:    m.loginAction,
		ActionLogout: func(_ context.Context, ac *store.ActionContext, _ any) (any, error) {
			return nil, ac.Commit(MutationSetCurrentUser, nil)
		},
	}
	for name, fn := range actions {
		if err := s.RegisterAction(name, fn); err != nil {
			return fmt.Errorf("registering action: %w", err)
		}
	}

	getters := map[string]store.GetterFunc{
		GetterUsers: func(state store.State, _ store.Getters) any {
			return fromState(state)
		},
		GetterCurrentUser: func(state store.State, _ store.Getters) any {
			return state[CurrentUserKey]
		},
		GetterUserByName: func(state store.State, _ store.Getters) any {
			return func(name string) *model.User {
				for _, user := range fromState(state) {
					if user.Name == name {
						return &user
					}
				}
				return nil
			}
		},
		GetterUserByID: func(state store.State, _ store.Getters) any {
			return func(id string) *model.User {
				for _, user := range fromState(state) {
					if user.ID == id {
						return &user
					}
				}
				return nil
			}
		},
	}
	for name, fn := range getters {
		if err := s.RegisterGetter(name, fn); err != nil {
			return fmt.Errorf("registering getter: %w", err)
		}
	}

	return nil
}

func (m *Module) registerAction(_ context.Context, ac *store.ActionContext, payload any) (any, error) {
	creds, ok := payload.(Credentials)
	if !ok {
		return nil, fmt.Errorf("%w: want Credentials", ErrInvalidPayload)
	}
	if creds.Name == "" || creds.Password == "" {
		return nil, fmt.Errorf("%w: name and password required", ErrInvalidPayload)
	}

	if existing, err := lookupByName(ac, creds.Name); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrNameTaken, creds.Name)
	}

	hash, err := auth.HashPassword(creds.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	role := creds.Role
	if role == "" {
		role = "member"
	}
	user := model.User{
		ID:           uuid.NewString(),
		Name:         creds.Name,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	if err := ac.Commit(MutationAddUser, user); err != nil {
		return nil, err
	}

	m.logger.Info("user registered", "user_id", user.ID, "name", user.Name, "role", user.Role)
	return user, nil
}

func (m *Module) loginAction(_ context.Context, ac *store.ActionContext, payload any) (any, error) {
	creds, ok := payload.(Credentials)
	if !ok {
		return nil, fmt.Errorf("%w: want Credentials", ErrInvalidPayload)
	}

	user, err := lookupByName(ac, creds.Name)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrBadCredentials
	}
	if auth.CheckPassword(user.PasswordHash, creds.Password) != nil {
		return nil, ErrBadCredentials
	}

	token, err := m.verifier.Generate(user.ID, m.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}

	if err := ac.Commit(MutationSetCurrentUser, *user); err != nil {
		return nil, err
	}

	m.logger.Info("user logged in", "user_id", user.ID, "name", user.Name)
	return Session{User: *user, Token: token}, nil
}

// lookupByName resolves a user through the userByName getter. A nil result
// with nil error means the name is unknown.
func lookupByName(ac *store.ActionContext, name string) (*model.User, error) {
	v, err := ac.Get(GetterUserByName)
	if err != nil {
		return nil, err
	}
	return v.(func(string) *model.User)(name), nil
}
