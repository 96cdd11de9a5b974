// ABOUTME: Processes module managing fulfillment pipelines and the cross-module stats getter
// ABOUTME: A process is a named sequence of steps advanced one at a time via dispatch

package processes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/2389/ordertrack/internal/model"
	"github.com/2389/ordertrack/internal/modules/orders"
	"github.com/2389/ordertrack/internal/modules/users"
	"github.com/2389/ordertrack/internal/store"
)

// StateKey is the state record key owned by this module
const StateKey = "processes"

// Mutation names
const (
	MutationSetProcesses = "SET_PROCESSES"
	MutationAddProcess   = "ADD_PROCESS"
	MutationSetStep      = "UPDATE_PROCESS_STEP"
)

// Action names
const (
	ActionCreate  = "processes/create"
	ActionAdvance = "processes/advance"
)

// Getter names
const (
	GetterProcesses   = "processes"
	GetterProcessByID = "processByID"
	GetterStats       = "stats"
)

// Module errors
var (
	// ErrProcessNotFound means no process with the given ID exists
	ErrProcessNotFound = errors.New("process not found")

	// ErrProcessComplete means the process has no steps left to advance
	ErrProcessComplete = errors.New("process already complete")

	// ErrNoSteps means a process was created without steps
	ErrNoSteps = errors.New("process needs at least one step")

	// ErrInvalidPayload means an action or mutation payload had the wrong shape
	ErrInvalidPayload = errors.New("invalid payload")
)

// CreateRequest is the payload for the processes/create action.
type CreateRequest struct {
	Name  string   `json:"name"`
	Steps []string `json:"steps"`
}

// stepUpdate is the payload for UPDATE_PROCESS_STEP.
type stepUpdate struct {
	ID   string
	Step int
}

// Stats is the value of the composed stats getter.
type Stats struct {
	Orders             int            `json:"orders"`
	OrdersByStatus     map[string]int `json:"orders_by_status"`
	Users              int            `json:"users"`
	Processes          int            `json:"processes"`
	CompletedProcesses int            `json:"completed_processes"`
}

// fromState reads the process list out of the state record.
func fromState(state store.State) []model.Process {
	list, _ := state[StateKey].([]model.Process)
	return list
}

// Register installs the processes mutations, actions and getters into the
// store, including the stats getter composed over the orders and users
// getters.
func Register(s *store.Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("module", "processes")

	mutations := map[string]store.MutationFunc{
		MutationSetProcesses: func(state store.State, payload any) error {
			list, ok := payload.([]model.Process)
			if !ok {
				return fmt.Errorf("%w: want []model.Process", ErrInvalidPayload)
			}
			state[StateKey] = list
			return nil
		},
		MutationAddProcess: func(state store.State, payload any) error {
			p, ok := payload.(model.Process)
			if !ok {
				return fmt.Errorf("%w: want model.Process", ErrInvalidPayload)
			}
			state[StateKey] = append(fromState(state), p)
			return nil
		},
		MutationSetStep: func(state store.State, payload any) error {
			upd, ok := payload.(stepUpdate)
			if !ok {
				return fmt.Errorf("%w: want step update", ErrInvalidPayload)
			}
			// Copy before writing: state snapshots handed to getters and
			// history share the old backing array.
			list := append([]model.Process(nil), fromState(state)...)
			for i := range list {
				if list[i].ID == upd.ID {
					list[i].Step = upd.Step
					state[StateKey] = list
					return nil
				}
			}
			return fmt.Errorf("%w: %s", ErrProcessNotFound, upd.ID)
		},
	}
	for name, fn := range mutations {
		if err := s.RegisterMutation(name, fn); err != nil {
			return fmt.Errorf("registering mutation: %w", err)
		}
	}

	actions := map[string]store.ActionFunc{
		ActionCreate: func(_ context.Context, ac *store.ActionContext, payload any) (any, error) {
			req, ok := payload.(CreateRequest)
			if !ok {
				return nil, fmt.Errorf("%w: want CreateRequest", ErrInvalidPayload)
			}
			if len(req.Steps) == 0 {
				return nil, ErrNoSteps
			}

			p := model.Process{
				ID:    uuid.NewString(),
				Name:  req.Name,
				Steps: req.Steps,
			}
			if err := ac.Commit(MutationAddProcess, p); err != nil {
				return nil, err
			}

			logger.Info("process created", "process_id", p.ID, "name", p.Name, "steps", len(p.Steps))
			return p, nil
		},
		ActionAdvance: func(_ context.Context, ac *store.ActionContext, payload any) (any, error) {
			id, ok := payload.(string)
			if !ok {
				return nil, fmt.Errorf("%w: want string process ID", ErrInvalidPayload)
			}

			p, err := lookupProcess(ac, id)
			if err != nil {
				return nil, err
			}
			if p.Complete() {
				return nil, fmt.Errorf("%w: %s", ErrProcessComplete, id)
			}

			next := p.Step + 1
			if err := ac.Commit(MutationSetStep, stepUpdate{ID: id, Step: next}); err != nil {
				return nil, err
			}
			p.Step = next

			logger.Info("process advanced", "process_id", id, "step", next, "of", len(p.Steps))
			return *p, nil
		},
	}
	for name, fn := range actions {
		if err := s.RegisterAction(name, fn); err != nil {
			return fmt.Errorf("registering action: %w", err)
		}
	}

	getters := map[string]store.GetterFunc{
		GetterProcesses: func(state store.State, _ store.Getters) any {
			return fromState(state)
		},
		GetterProcessByID: func(state store.State, _ store.Getters) any {
			return func(id string) *model.Process {
				for _, p := range fromState(state) {
					if p.ID == id {
						return &p
					}
				}
				return nil
			}
		},
		// stats composes the orders and users getters rather than reading
		// their state keys directly, so it stays correct if those modules
		// change their internal layout.
		GetterStats: func(state store.State, getters store.Getters) any {
			stats := Stats{OrdersByStatus: make(map[string]int)}

			if v, err := getters.Value(orders.GetterOrders); err == nil {
				list, _ := v.([]model.Order)
				stats.Orders = len(list)
				for _, order := range list {
					stats.OrdersByStatus[order.Status]++
				}
			}
			if v, err := getters.Value(users.GetterUsers); err == nil {
				list, _ := v.([]model.User)
				stats.Users = len(list)
			}

			for _, p := range fromState(state) {
				stats.Processes++
				if p.Complete() {
					stats.CompletedProcesses++
				}
			}

			return stats
		},
	}
	for name, fn := range getters {
		if err := s.RegisterGetter(name, fn); err != nil {
			return fmt.Errorf("registering getter: %w", err)
		}
	}

	return nil
}

// lookupProcess resolves a process through the processByID getter.
func lookupProcess(ac *store.ActionContext, id string) (*model.Process, error) {
	v, err := ac.Get(GetterProcessByID)
	if err != nil {
		return nil, err
	}
	p := v.(func(string) *model.Process)(id)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrProcessNotFound, id)
	}
	return p, nil
}
