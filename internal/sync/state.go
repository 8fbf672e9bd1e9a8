package sync

import (
	"cmp"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// StateFileName is the ledger file kept at the root of the data directory
const StateFileName = ".sync_state.json"

// StateManager manages the sync state file
type StateManager struct {
	statePath string
	state     *SyncState
}

// StatePath returns where the ledger of a data directory lives
func StatePath(dataDir string) string {
	return filepath.Join(dataDir, StateFileName)
}

// NewStateManager loads the ledger of dataDir, starting empty if there is none
func NewStateManager(dataDir string) (*StateManager, error) {
	sm := &StateManager{
		statePath: StatePath(dataDir),
		state: &SyncState{
			Conversations: make(map[string]ConversationState),
		},
	}

	data, err := os.ReadFile(sm.statePath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, sm.state); err != nil {
			log.Warn("sync state is unreadable, starting fresh", "path", sm.statePath, "err", err)
			sm.state = &SyncState{}
		}
		// Ensure the map is initialized even after loading
		if sm.state.Conversations == nil {
			sm.state.Conversations = make(map[string]ConversationState)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	return sm, nil
}

// Path returns the ledger location
func (sm *StateManager) Path() string {
	return sm.statePath
}

// RecordRun stamps the ledger with the run that is about to be recorded
func (sm *StateManager) RecordRun(runID string) {
	sm.state.LastRunID = runID
	sm.state.LastRunAt = time.Now().UTC().Format(time.RFC3339)
}

// RecordResult folds the outcome of one conversation into the ledger.
// Failures keep the previous success data and bump the failure counter;
// a success clears any earlier failure.
func (sm *StateManager) RecordResult(runID string, res Result) {
	key := res.Channel.ID.String()
	now := time.Now().UTC().Format(time.RFC3339)

	info := sm.state.Conversations[key]
	info.ChannelID = key
	info.Display = res.Channel.Display()
	info.Path = res.Path
	info.LastRunID = runID

	if res.Err != nil {
		info.LastError = res.Err.Error()
		info.FailedAt = now
		info.FailureCount++
	} else {
		info.SyncedAt = now
		info.MessageCount = res.Messages
		info.LastInserted = res.Inserted
		info.LastError = ""
		info.FailedAt = ""
		info.FailureCount = 0
	}
	sm.state.Conversations[key] = info
}

// GetConversationState returns what is known about a channel
func (sm *StateManager) GetConversationState(channelID string) (ConversationState, bool) {
	info, ok := sm.state.Conversations[channelID]
	return info, ok
}

// Conversations returns every recorded conversation ordered by display name
func (sm *StateManager) Conversations() []ConversationState {
	result := make([]ConversationState, 0, len(sm.state.Conversations))
	for _, info := range sm.state.Conversations {
		result = append(result, info)
	}
	slices.SortFunc(result, func(a, b ConversationState) int {
		return cmp.Or(strings.Compare(a.Display, b.Display), strings.Compare(a.ChannelID, b.ChannelID))
	})
	return result
}

// GetFailedSyncs returns the conversations whose last run failed
func (sm *StateManager) GetFailedSyncs() []ConversationState {
	var failed []ConversationState
	for _, info := range sm.Conversations() {
		if info.LastError != "" {
			failed = append(failed, info)
		}
	}
	return failed
}

// LastRun returns the id and time of the last recorded run
func (sm *StateManager) LastRun() (string, string) {
	return sm.state.LastRunID, sm.state.LastRunAt
}

// ClearState clears all sync state
func (sm *StateManager) ClearState() {
	sm.state = &SyncState{Conversations: make(map[string]ConversationState)}
}

// Save persists the state to disk
func (sm *StateManager) Save() error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(sm.statePath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(sm.state, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(sm.statePath, data, 0644)
}
