package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/baleyhq/baley/internal/model"
	"github.com/baleyhq/baley/internal/storage"
)

// memoryAction and sharedAction are closed sets of dispatch variants. Raw
// action strings from arguments are parsed into these before any work
// happens, and every switch carries an explicit unknown-action branch.
type memoryAction string

const (
	memoryGet    memoryAction = "get"
	memorySet    memoryAction = "set"
	memoryDelete memoryAction = "delete"
	memoryList   memoryAction = "list"
)

type sharedAction string

const (
	sharedWrite  sharedAction = "write"
	sharedRead   sharedAction = "read"
	sharedDelete sharedAction = "delete"
	sharedList   sharedAction = "list"
)

type kvCall struct {
	Action     string
	Key        string
	Value      json.RawMessage
	TTLSeconds *int64
}

func parseKVCall(args map[string]any) (kvCall, error) {
	var c kvCall
	c.Action, _ = args["action"].(string)
	if c.Action == "" {
		return kvCall{}, &ValidationError{Reason: "action is required"}
	}
	c.Key, _ = args["key"].(string)
	if v, ok := args["value"]; ok {
		raw, err := json.Marshal(v)
		if err != nil {
			return kvCall{}, &ValidationError{Reason: fmt.Sprintf("value is not serialisable: %v", err)}
		}
		c.Value = raw
	}
	switch ttl := args["ttl_seconds"].(type) {
	case float64:
		n := int64(ttl)
		c.TTLSeconds = &n
	case int:
		n := int64(ttl)
		c.TTLSeconds = &n
	}
	return c, nil
}

func (r *Registry) memoryHandler(ec *ExecContext) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		call, err := parseKVCall(args)
		if err != nil {
			return nil, err
		}

		switch memoryAction(call.Action) {
		case memoryGet:
			if err := model.ValidateKVKey(call.Key); err != nil {
				return nil, &ValidationError{Name: ToolMemory, Reason: err.Error()}
			}
			entry, err := r.db.GetMemory(ctx, ec.WorkspaceID, ec.Agent.ID, call.Key)
			if errors.Is(err, storage.ErrNotFound) {
				return map[string]any{"found": false}, nil
			}
			if err != nil {
				return nil, err
			}
			return map[string]any{"found": true, "value": json.RawMessage(entry.Value)}, nil

		case memorySet:
			if err := model.ValidateKVKey(call.Key); err != nil {
				return nil, &ValidationError{Name: ToolMemory, Reason: err.Error()}
			}
			if call.Value == nil {
				return nil, &ValidationError{Name: ToolMemory, Reason: "value is required for set"}
			}
			if len(call.Value) > model.MaxKVValueBytes {
				return nil, &ValidationError{Name: ToolMemory, Reason: "value exceeds maximum size"}
			}
			execID := ec.ExecutionID
			if _, err := r.db.SetMemory(ctx, ec.WorkspaceID, ec.Agent.ID, call.Key, call.Value, &execID); err != nil {
				return nil, err
			}
			return map[string]any{"ok": true}, nil

		case memoryDelete:
			if err := model.ValidateKVKey(call.Key); err != nil {
				return nil, &ValidationError{Name: ToolMemory, Reason: err.Error()}
			}
			err := r.db.DeleteMemory(ctx, ec.WorkspaceID, ec.Agent.ID, call.Key)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return nil, err
			}
			return map[string]any{"ok": true}, nil

		case memoryList:
			entries, err := r.db.ListMemory(ctx, ec.WorkspaceID, ec.Agent.ID)
			if err != nil {
				return nil, err
			}
			keys := make([]string, 0, len(entries))
			for _, e := range entries {
				keys = append(keys, e.Key)
			}
			return map[string]any{"keys": keys}, nil

		default:
			return nil, &ValidationError{Name: ToolMemory, Reason: fmt.Sprintf("unknown action %q", call.Action)}
		}
	}
}

func (r *Registry) sharedStorageHandler(ec *ExecContext) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		call, err := parseKVCall(args)
		if err != nil {
			return nil, err
		}

		switch sharedAction(call.Action) {
		case sharedWrite:
			if err := model.ValidateKVKey(call.Key); err != nil {
				return nil, &ValidationError{Name: ToolSharedStorage, Reason: err.Error()}
			}
			if call.Value == nil {
				return nil, &ValidationError{Name: ToolSharedStorage, Reason: "value is required for write"}
			}
			if len(call.Value) > model.MaxKVValueBytes {
				return nil, &ValidationError{Name: ToolSharedStorage, Reason: "value exceeds maximum size"}
			}
			var ttl *time.Duration
			if call.TTLSeconds != nil {
				if *call.TTLSeconds <= 0 {
					return nil, &ValidationError{Name: ToolSharedStorage, Reason: "ttl_seconds must be positive"}
				}
				d := time.Duration(*call.TTLSeconds) * time.Second
				ttl = &d
			}
			agentID := ec.Agent.ID
			execID := ec.ExecutionID
			if _, err := r.db.SetShared(ctx, ec.WorkspaceID, call.Key, call.Value, ttl, &agentID, &execID); err != nil {
				return nil, err
			}
			return map[string]any{"ok": true}, nil

		case sharedRead:
			if err := model.ValidateKVKey(call.Key); err != nil {
				return nil, &ValidationError{Name: ToolSharedStorage, Reason: err.Error()}
			}
			entry, err := r.db.GetShared(ctx, ec.WorkspaceID, call.Key)
			if errors.Is(err, storage.ErrNotFound) {
				return map[string]any{"found": false}, nil
			}
			if err != nil {
				return nil, err
			}
			return map[string]any{"found": true, "value": json.RawMessage(entry.Value)}, nil

		case sharedDelete:
			if err := model.ValidateKVKey(call.Key); err != nil {
				return nil, &ValidationError{Name: ToolSharedStorage, Reason: err.Error()}
			}
			err := r.db.DeleteShared(ctx, ec.WorkspaceID, call.Key)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return nil, err
			}
			return map[string]any{"ok": true}, nil

		case sharedList:
			entries, err := r.db.ListShared(ctx, ec.WorkspaceID)
			if err != nil {
				return nil, err
			}
			keys := make([]string, 0, len(entries))
			for _, e := range entries {
				keys = append(keys, e.Key)
			}
			return map[string]any{"keys": keys}, nil

		default:
			return nil, &ValidationError{Name: ToolSharedStorage, Reason: fmt.Sprintf("unknown action %q", call.Action)}
		}
	}
}
