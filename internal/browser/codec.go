package browser

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/runnerr0/tabtrail/internal/metadata"
)

// ErrUnknownAction is returned when decoding an action whose type is not
// recognized.
var ErrUnknownAction = errors.New("unknown action type")

// Wire names for each action type.
const (
	TypeAddTab             = "add_tab"
	TypeSelectTab          = "select_tab"
	TypeRemoveTab          = "remove_tab"
	TypeRemoveTabs         = "remove_tabs"
	TypeUpdateLoadingState = "update_loading_state"
	TypeUpdateURL          = "update_url"
	TypeUpdateMedia        = "update_media_metadata"
	TypeUpdateLastAccess   = "update_last_access"
	TypeSetMetadataKey     = "set_metadata_key"
)

// envelope is the JSON form of every action. Fields not used by an action
// type are omitted.
type envelope struct {
	Type       string      `json:"type"`
	Tab        *TabSession `json:"tab,omitempty"`
	Select     bool        `json:"select,omitempty"`
	TabID      string      `json:"tab_id,omitempty"`
	TabIDs     []string    `json:"tab_ids,omitempty"`
	Loading    *bool       `json:"loading,omitempty"`
	URL        string      `json:"url,omitempty"`
	Active     *bool       `json:"active,omitempty"`
	LastAccess int64       `json:"last_access,omitempty"`
	Key        *wireKey    `json:"key,omitempty"`
}

type wireKey struct {
	URL         string `json:"url"`
	ReferrerURL string `json:"referrer_url,omitempty"`
	SearchTerm  string `json:"search_term,omitempty"`
}

// DecodeAction parses one JSON-encoded action.
func DecodeAction(data []byte) (Action, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}

	switch env.Type {
	case TypeAddTab:
		if env.Tab == nil || env.Tab.ID == "" {
			return nil, fmt.Errorf("%s: tab with id is required", env.Type)
		}
		return AddTabAction{Tab: *env.Tab, Select: env.Select}, nil
	case TypeSelectTab:
		if env.TabID == "" {
			return nil, fmt.Errorf("%s: tab_id is required", env.Type)
		}
		return SelectTabAction{TabID: env.TabID}, nil
	case TypeRemoveTab:
		if env.TabID == "" {
			return nil, fmt.Errorf("%s: tab_id is required", env.Type)
		}
		return RemoveTabAction{TabID: env.TabID}, nil
	case TypeRemoveTabs:
		return RemoveTabsAction{TabIDs: env.TabIDs}, nil
	case TypeUpdateLoadingState:
		if env.TabID == "" || env.Loading == nil {
			return nil, fmt.Errorf("%s: tab_id and loading are required", env.Type)
		}
		return UpdateLoadingStateAction{TabID: env.TabID, Loading: *env.Loading}, nil
	case TypeUpdateURL:
		if env.TabID == "" || env.URL == "" {
			return nil, fmt.Errorf("%s: tab_id and url are required", env.Type)
		}
		return UpdateURLAction{TabID: env.TabID, URL: env.URL}, nil
	case TypeUpdateMedia:
		if env.TabID == "" || env.Active == nil {
			return nil, fmt.Errorf("%s: tab_id and active are required", env.Type)
		}
		return UpdateMediaMetadataAction{TabID: env.TabID, Active: *env.Active}, nil
	case TypeUpdateLastAccess:
		if env.TabID == "" {
			return nil, fmt.Errorf("%s: tab_id is required", env.Type)
		}
		return UpdateLastAccessAction{TabID: env.TabID, LastAccess: env.LastAccess}, nil
	case TypeSetMetadataKey:
		if env.TabID == "" || env.Key == nil {
			return nil, fmt.Errorf("%s: tab_id and key are required", env.Type)
		}
		return SetMetadataKeyAction{TabID: env.TabID, Key: metadata.Key(*env.Key)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Type)
	}
}

// EncodeAction is the inverse of DecodeAction.
func EncodeAction(a Action) ([]byte, error) {
	var env envelope
	switch a := a.(type) {
	case AddTabAction:
		tab := a.Tab
		env = envelope{Type: TypeAddTab, Tab: &tab, Select: a.Select}
	case SelectTabAction:
		env = envelope{Type: TypeSelectTab, TabID: a.TabID}
	case RemoveTabAction:
		env = envelope{Type: TypeRemoveTab, TabID: a.TabID}
	case RemoveTabsAction:
		env = envelope{Type: TypeRemoveTabs, TabIDs: a.TabIDs}
	case UpdateLoadingStateAction:
		loading := a.Loading
		env = envelope{Type: TypeUpdateLoadingState, TabID: a.TabID, Loading: &loading}
	case UpdateURLAction:
		env = envelope{Type: TypeUpdateURL, TabID: a.TabID, URL: a.URL}
	case UpdateMediaMetadataAction:
		active := a.Active
		env = envelope{Type: TypeUpdateMedia, TabID: a.TabID, Active: &active}
	case UpdateLastAccessAction:
		env = envelope{Type: TypeUpdateLastAccess, TabID: a.TabID, LastAccess: a.LastAccess}
	case SetMetadataKeyAction:
		key := wireKey(a.Key)
		env = envelope{Type: TypeSetMetadataKey, TabID: a.TabID, Key: &key}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownAction, a)
	}
	return json.Marshal(env)
}
