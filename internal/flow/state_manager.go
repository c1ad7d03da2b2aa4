package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/SteadyPath/CoachPipe/internal/models"
	"github.com/SteadyPath/CoachPipe/internal/store"
)

// StoreBasedStateManager implements StateManager using a Store backend, so
// flow state survives restarts and is inspectable via the API.
type StoreBasedStateManager struct {
	store store.Store
}

// NewStoreBasedStateManager creates a new StateManager backed by a Store.
func NewStoreBasedStateManager(st store.Store) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager")
	return &StoreBasedStateManager{store: st}
}

// GetCurrentState retrieves the current state for a user in a flow.
func (sm *StoreBasedStateManager) GetCurrentState(ctx context.Context, userID string, flowType models.FlowType) (models.StateType, error) {
	flowState, err := sm.store.GetFlowState(userID, string(flowType))
	if err != nil {
		slog.Error("StateManager GetCurrentState error", "error", err, "userID", userID, "flowType", flowType)
		return "", err
	}
	if flowState == nil {
		return "", nil
	}
	return flowState.CurrentState, nil
}

// SetCurrentState updates the current state for a user in a flow.
func (sm *StoreBasedStateManager) SetCurrentState(ctx context.Context, userID string, flowType models.FlowType, state models.StateType) error {
	slog.Debug("StateManager SetCurrentState", "userID", userID, "flowType", flowType, "state", state)

	flowState, err := sm.store.GetFlowState(userID, string(flowType))
	if err != nil {
		slog.Error("StateManager SetCurrentState get error", "error", err, "userID", userID, "flowType", flowType)
		return err
	}

	now := time.Now()
	if flowState == nil {
		flowState = &models.FlowState{
			UserID:       userID,
			FlowType:     flowType,
			CurrentState: state,
			StateData:    make(map[models.DataKey]string),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	} else {
		flowState.CurrentState = state
		flowState.UpdatedAt = now
	}

	if err := sm.store.SaveFlowState(*flowState); err != nil {
		slog.Error("StateManager SetCurrentState save error", "error", err, "userID", userID, "flowType", flowType, "state", state)
		return err
	}
	return nil
}

// GetStateData retrieves additional data associated with the user's state.
func (sm *StoreBasedStateManager) GetStateData(ctx context.Context, userID string, flowType models.FlowType, key models.DataKey) (string, error) {
	flowState, err := sm.store.GetFlowState(userID, string(flowType))
	if err != nil {
		slog.Error("StateManager GetStateData error", "error", err, "userID", userID, "flowType", flowType, "key", key)
		return "", err
	}
	if flowState == nil || flowState.StateData == nil {
		return "", nil
	}
	return flowState.StateData[key], nil
}

// SetStateData stores additional data associated with the user's state.
func (sm *StoreBasedStateManager) SetStateData(ctx context.Context, userID string, flowType models.FlowType, key models.DataKey, value string) error {
	flowState, err := sm.store.GetFlowState(userID, string(flowType))
	if err != nil {
		slog.Error("StateManager SetStateData get error", "error", err, "userID", userID, "flowType", flowType, "key", key)
		return err
	}

	now := time.Now()
	if flowState == nil {
		flowState = &models.FlowState{
			UserID:    userID,
			FlowType:  flowType,
			StateData: map[models.DataKey]string{key: value},
			CreatedAt: now,
			UpdatedAt: now,
		}
	} else {
		if flowState.StateData == nil {
			flowState.StateData = make(map[models.DataKey]string)
		}
		flowState.StateData[key] = value
		flowState.UpdatedAt = now
	}

	if err := sm.store.SaveFlowState(*flowState); err != nil {
		slog.Error("StateManager SetStateData save error", "error", err, "userID", userID, "flowType", flowType, "key", key)
		return err
	}
	return nil
}

// ResetState removes all state data for a user in a flow.
func (sm *StoreBasedStateManager) ResetState(ctx context.Context, userID string, flowType models.FlowType) error {
	if err := sm.store.DeleteFlowState(userID, string(flowType)); err != nil {
		slog.Error("StateManager ResetState error", "error", err, "userID", userID, "flowType", flowType)
		return err
	}
	slog.Debug("StateManager ResetState succeeded", "userID", userID, "flowType", flowType)
	return nil
}
