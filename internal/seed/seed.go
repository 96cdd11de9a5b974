// ABOUTME: TOML seed-state loader producing the store's initial state record
// ABOUTME: Used on first boot, before any snapshot exists in the database

package seed

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/2389/ordertrack/internal/auth"
	"github.com/2389/ordertrack/internal/model"
	"github.com/2389/ordertrack/internal/modules/orders"
	"github.com/2389/ordertrack/internal/modules/processes"
	"github.com/2389/ordertrack/internal/modules/users"
	"github.com/2389/ordertrack/internal/store"
)

// file is the TOML document shape of a seed file.
type file struct {
	Orders    []orderSeed   `toml:"orders"`
	Users     []userSeed    `toml:"users"`
	Processes []processSeed `toml:"processes"`
}

type orderSeed struct {
	Customer  string `toml:"customer"`
	Status    string `toml:"status"`
	ProcessID string `toml:"process_id"`
	Notes     string `toml:"notes"`
}

type userSeed struct {
	Name     string `toml:"name"`
	Password string `toml:"password"`
	Role     string `toml:"role"`
}

type processSeed struct {
	Name  string   `toml:"name"`
	Steps []string `toml:"steps"`
}

// Empty returns a state record with the module keys present but no data.
func Empty() store.State {
	return store.State{
		orders.StateKey:      []model.Order(nil),
		orders.LoadingKey:    false,
		users.StateKey:       []model.User(nil),
		users.CurrentUserKey: nil,
		processes.StateKey:   []model.Process(nil),
	}
}

// Load reads a TOML seed file and builds the initial state record from it.
// Environment variables in the format ${VAR_NAME} are expanded, so seed
// passwords can live outside the file. Passwords are bcrypt-hashed; IDs and
// timestamps are generated.
func Load(path string) (store.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var f file
	if err := toml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}

	state := Empty()
	now := time.Now()

	var userList []model.User
	for _, u := range f.Users {
		if u.Name == "" || u.Password == "" {
			return nil, fmt.Errorf("seed user needs name and password")
		}
		hash, err := auth.HashPassword(u.Password)
		if err != nil {
			return nil, fmt.Errorf("hashing seed password for %q: %w", u.Name, err)
		}
		role := u.Role
		if role == "" {
			role = "member"
		}
		userList = append(userList, model.User{
			ID:           uuid.NewString(),
			Name:         u.Name,
			Role:         role,
			PasswordHash: hash,
			CreatedAt:    now,
		})
	}
	state[users.StateKey] = userList

	var processList []model.Process
	for _, p := range f.Processes {
		if len(p.Steps) == 0 {
			return nil, fmt.Errorf("seed process %q needs steps", p.Name)
		}
		processList = append(processList, model.Process{
			ID:    uuid.NewString(),
			Name:  p.Name,
			Steps: p.Steps,
		})
	}
	state[processes.StateKey] = processList

	var orderList []model.Order
	for _, o := range f.Orders {
		if o.Customer == "" {
			return nil, fmt.Errorf("seed order needs a customer")
		}
		status := o.Status
		if status == "" {
			status = model.StatusReceived
		}
		if !model.ValidStatus(status) {
			return nil, fmt.Errorf("seed order for %q has unknown status %q", o.Customer, status)
		}
		orderList = append(orderList, model.Order{
			ID:        uuid.NewString(),
			Customer:  o.Customer,
			Status:    status,
			ProcessID: o.ProcessID,
			Notes:     o.Notes,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	state[orders.StateKey] = orderList

	return state, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
