package engine

import (
	"context"
	"fmt"

	"github.com/nyviadk/nexus/internal/browser"
	"github.com/nyviadk/nexus/internal/store"
)

// Request is a typed UI/bridge request. Fields beyond Type are read per
// request type; unknown fields are ignored.
type Request struct {
	Type             string   `json:"type"`
	WindowHandle     int64    `json:"windowHandle,omitempty"`
	WorkspaceID      string   `json:"workspaceId,omitempty"`
	WorkspaceName    string   `json:"workspaceName,omitempty"`
	InternalWindowID string   `json:"internalWindowId,omitempty"`
	UIDs             []string `json:"uids,omitempty"`
}

// Request types accepted by HandleRequest.
const (
	ReqGetActiveMappings  = "GET_ACTIVE_MAPPINGS"
	ReqClaimWindow        = "CLAIM_WINDOW"
	ReqOpenWorkspace      = "OPEN_WORKSPACE"
	ReqOpenSpecificWindow = "OPEN_SPECIFIC_WINDOW"
	ReqCreateNewWindow    = "CREATE_NEW_WINDOW_IN_WORKSPACE"
	ReqForceSync          = "FORCE_SYNC_ACTIVE_WINDOW"
	ReqClosePhysicalTabs  = "CLOSE_PHYSICAL_TABS"
	ReqTriggerAISort      = "TRIGGER_AI_SORT"
	ReqGetRestoringStatus = "GET_RESTORING_STATUS"
	ReqGetAIHealth        = "GET_AI_HEALTH"
)

// Mapping is the wire shape of one active window binding.
type Mapping struct {
	WindowHandle     int64  `json:"windowHandle"`
	WorkspaceID      string `json:"workspaceId"`
	InternalWindowID string `json:"internalWindowId"`
	WorkspaceName    string `json:"workspaceName"`
	Ordinal          int    `json:"ordinal"`
}

// HandleRequest executes one UI request and returns its reply payload.
// Long-running restorations run to completion before returning; callers
// that need progress subscribe to the status bus instead of waiting.
func (e *Engine) HandleRequest(ctx context.Context, req Request) (any, error) {
	switch req.Type {
	case ReqGetActiveMappings:
		var out []Mapping
		for win, b := range e.co.Bindings() {
			out = append(out, Mapping{
				WindowHandle:     int64(win),
				WorkspaceID:      b.WorkspaceID,
				InternalWindowID: b.InternalWindowID,
				WorkspaceName:    b.WorkspaceName,
				Ordinal:          b.Ordinal,
			})
		}
		return out, nil

	case ReqClaimWindow:
		if req.InternalWindowID == "" {
			return nil, fmt.Errorf("claim: missing internalWindowId")
		}
		err := e.ClaimWindow(ctx, browser.WindowID(req.WindowHandle), req.WorkspaceID, req.InternalWindowID, req.WorkspaceName)
		return nil, err

	case ReqOpenWorkspace:
		name, err := e.workspaceName(req)
		if err != nil {
			return nil, err
		}
		return nil, e.OpenWorkspace(ctx, req.WorkspaceID, name)

	case ReqOpenSpecificWindow:
		name, err := e.workspaceName(req)
		if err != nil {
			return nil, err
		}
		doc, err := store.GetWindowDoc(e.db, req.WorkspaceID, req.InternalWindowID)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, fmt.Errorf("unknown window %s/%s", req.WorkspaceID, req.InternalWindowID)
		}
		return nil, e.OpenSpecificWindow(ctx, req.WorkspaceID, *doc, name, ordinalFor(e, req))

	case ReqCreateNewWindow:
		name, err := e.workspaceName(req)
		if err != nil {
			return nil, err
		}
		return nil, e.CreateNewWindowInWorkspace(ctx, req.WorkspaceID, name)

	case ReqForceSync:
		return nil, e.ForceSync(ctx, browser.WindowID(req.WindowHandle))

	case ReqClosePhysicalTabs:
		return nil, e.CloseTabsByUID(ctx, req.UIDs)

	case ReqTriggerAISort:
		return nil, e.TriggerAISort(ctx)

	case ReqGetRestoringStatus:
		return map[string]string{"status": e.Status()}, nil

	case ReqGetAIHealth:
		return map[string]bool{"healthy": e.q.Healthy()}, nil

	default:
		return nil, fmt.Errorf("unknown request type %q", req.Type)
	}
}

// workspaceName resolves the display name, preferring the request field
// and falling back to the stored workspace.
func (e *Engine) workspaceName(req Request) (string, error) {
	if req.WorkspaceName != "" {
		return req.WorkspaceName, nil
	}
	ws, err := store.GetWorkspace(e.db, req.WorkspaceID)
	if err != nil {
		return "", err
	}
	if ws == nil {
		return "", fmt.Errorf("unknown workspace %s", req.WorkspaceID)
	}
	return ws.Name, nil
}

func ordinalFor(e *Engine, req Request) int {
	docs, err := store.ListWindowDocs(e.db, req.WorkspaceID)
	if err != nil {
		return 1
	}
	for i, d := range docs {
		if d.InternalWindowID == req.InternalWindowID {
			return i + 1
		}
	}
	return len(docs) + 1
}
