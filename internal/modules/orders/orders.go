// ABOUTME: Orders module registering order CRUD mutations, actions and getters
// ABOUTME: All order state changes route through the shared store's commit protocol

package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/ordertrack/internal/model"
	"github.com/2389/ordertrack/internal/store"
)

// State keys owned by this module
const (
	StateKey   = "orders"
	LoadingKey = "ordersLoading"
)

// Mutation names
const (
	MutationSetOrders   = "SET_ORDERS"
	MutationAddOrder    = "ADD_ORDER"
	MutationUpdateOrder = "UPDATE_ORDER"
	MutationRemoveOrder = "REMOVE_ORDER"
	MutationSetLoading  = "SET_ORDERS_LOADING"
)

// Action names
const (
	ActionCreate       = "orders/create"
	ActionUpdateStatus = "orders/updateStatus"
	ActionDelete       = "orders/delete"
	ActionLoad         = "orders/load"
)

// Getter names
const (
	GetterOrders         = "orders"
	GetterOrderByID      = "orderByID"
	GetterOrdersByStatus = "ordersByStatus"
	GetterOrderCount     = "orderCount"
)

// Module errors
var (
	// ErrOrderNotFound means no order with the given ID exists
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidTransition means the requested status change is not allowed
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrEmptyCustomer means an order was created without a customer
	ErrEmptyCustomer = errors.New("customer must not be empty")

	// ErrInvalidPayload means an action or mutation payload had the wrong shape
	ErrInvalidPayload = errors.New("invalid payload")
)

// CreateRequest is the payload for the orders/create action.
type CreateRequest struct {
	Customer  string `json:"customer"`
	Notes     string `json:"notes"`
	ProcessID string `json:"process_id"`
}

// StatusRequest is the payload for the orders/updateStatus action.
type StatusRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// fromState reads the order list out of the state record.
func fromState(state store.State) []model.Order {
	list, _ := state[StateKey].([]model.Order)
	return list
}

// Register installs the orders mutations, actions and getters into the
// store. Called once during application startup.
func Register(s *store.Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("module", "orders")

	mutations := map[string]store.MutationFunc{
		MutationSetOrders: func(state store.State, payload any) error {
			list, ok := payload.([]model.Order)
			if !ok {
				return fmt.Errorf("%w: want []model.Order", ErrInvalidPayload)
			}
			state[StateKey] = list
			return nil
		},
		MutationAddOrder: func(state store.State, payload any) error {
			order, ok := payload.(model.Order)
			if !ok {
				return fmt.Errorf("%w: want model.Order", ErrInvalidPayload)
			}
			state[StateKey] = append(fromState(state), order)
			return nil
		},
		MutationUpdateOrder: func(state store.State, payload any) error {
			order, ok := payload.(model.Order)
			if !ok {
				return fmt.Errorf("%w: want model.Order", ErrInvalidPayload)
			}
			// Copy before writing: state snapshots handed to getters and
			// history share the old backing array.
			list := append([]model.Order(nil), fromState(state)...)
			for i := range list {
				if list[i].ID == order.ID {
					list[i] = order
					state[StateKey] = list
					return nil
				}
			}
			return fmt.Errorf("%w: %s", ErrOrderNotFound, order.ID)
		},
		MutationRemoveOrder: func(state store.State, payload any) error {
			id, ok := payload.(string)
			if !ok {
				return fmt.Errorf("%w: want string order ID", ErrInvalidPayload)
			}
			list := fromState(state)
			for i := range list {
				if list[i].ID == id {
					state[StateKey] = append(list[:i:i], list[i+1:]...)
					return nil
				}
			}
			return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		},
		MutationSetLoading: func(state store.State, payload any) error {
			loading, ok := payload.(bool)
			if !ok {
				return fmt.Errorf("%w: want bool", ErrInvalidPayload)
			}
			state[LoadingKey] = loading
			return nil
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
			if req.Customer == "" {
				return nil, ErrEmptyCustomer
			}

			now := time.Now()
			order := model.Order{
				ID:        uuid.NewString(),
				Customer:  req.Customer,
				Status:    model.StatusReceived,
				ProcessID: req.ProcessID,
				Notes:     req.Notes,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := ac.Commit(MutationAddOrder, order); err != nil {
				return nil, err
			}

			logger.Info("order created", "order_id", order.ID, "customer", order.Customer)
			return order, nil
		},
		ActionUpdateStatus: func(_ context.Context, ac *store.ActionContext, payload any) (any, error) {
			req, ok := payload.(StatusRequest)
			if !ok {
				return nil, fmt.Errorf("%w: want StatusRequest", ErrInvalidPayload)
			}
			if !model.ValidStatus(req.Status) {
				return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, req.Status)
			}

			order, err := lookupOrder(ac, req.ID)
			if err != nil {
				return nil, err
			}
			if !model.CanTransition(order.Status, req.Status) {
				return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, req.Status)
			}

			order.Status = req.Status
			order.UpdatedAt = time.Now()
			if err := ac.Commit(MutationUpdateOrder, *order); err != nil {
				return nil, err
			}

			logger.Info("order status updated", "order_id", order.ID, "status", order.Status)
			return *order, nil
		},
		ActionDelete: func(_ context.Context, ac *store.ActionContext, payload any) (any, error) {
			id, ok := payload.(string)
			if !ok {
				return nil, fmt.Errorf("%w: want string order ID", ErrInvalidPayload)
			}
			if _, err := lookupOrder(ac, id); err != nil {
				return nil, err
			}
			if err := ac.Commit(MutationRemoveOrder, id); err != nil {
				return nil, err
			}

			logger.Info("order deleted", "order_id", id)
			return nil, nil
		},
		ActionLoad: func(_ context.Context, ac *store.ActionContext, payload any) (any, error) {
			list, ok := payload.([]model.Order)
			if !ok {
				return nil, fmt.Errorf("%w: want []model.Order", ErrInvalidPayload)
			}
			if err := ac.Commit(MutationSetLoading, true); err != nil {
				return nil, err
			}
			if err := ac.Commit(MutationSetOrders, list); err != nil {
				return nil, err
			}
			if err := ac.Commit(MutationSetLoading, false); err != nil {
				return nil, err
			}
			return len(list), nil
		},
	}
	for name, fn := range actions {
		if err := s.RegisterAction(name, fn); err != nil {
			return fmt.Errorf("registering action: %w", err)
		}
	}

	getters := map[string]store.GetterFunc{
		GetterOrders: func(state store.State, _ store.Getters) any {
			return fromState(state)
		},
		GetterOrderByID: func(state store.State, _ store.Getters) any {
			return func(id string) *model.Order {
				for _, order := range fromState(state) {
					if order.ID == id {
						return &order
					}
				}
				return nil
			}
		},
		GetterOrdersByStatus: func(state store.State, _ store.Getters) any {
			return func(status string) []model.Order {
				var matched []model.Order
				for _, order := range fromState(state) {
					if order.Status == status {
						matched = append(matched, order)
					}
				}
				return matched
			}
		},
		GetterOrderCount: func(state store.State, _ store.Getters) any {
			return len(fromState(state))
		},
	}
	for name, fn := range getters {
		if err := s.RegisterGetter(name, fn); err != nil {
			return fmt.Errorf("registering getter: %w", err)
		}
	}

	return nil
}

// lookupOrder resolves an order through the orderByID getter.
func lookupOrder(ac *store.ActionContext, id string) (*model.Order, error) {
	v, err := ac.Get(GetterOrderByID)
	if err != nil {
		return nil, err
	}
	order := v.(func(string) *model.Order)(id)
	if order == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return order, nil
}
