package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const stateFileName = "thread_tally_state.json"

// StateData represents the persistent state of the application. Entry values
// are not stored here; they are recovered from message history on startup.
type StateData struct {
	// Map of channelID -> map of threadTS -> last activity
	TrackedThreads map[string]map[string]time.Time `json:"trackedThreads"`

	// Map of "channelID:messageTS" -> time the acknowledgment reply was sent
	Acknowledged map[string]time.Time `json:"acknowledged"`

	// Last time the state was saved
	LastUpdated time.Time `json:"lastUpdated"`
}

// StateManager handles persistence of app state
type StateManager struct {
	data       StateData
	filePath   string
	mu         sync.RWMutex
	saveTicker *time.Ticker
	done       chan bool
	stopOnce   sync.Once
}

// NewStateManager creates a new state manager
func NewStateManager(stateDir string) (*StateManager, error) {
	// Ensure directory exists
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	filePath := filepath.Join(stateDir, stateFileName)

	sm := &StateManager{
		data: StateData{
			TrackedThreads: make(map[string]map[string]time.Time),
			Acknowledged:   make(map[string]time.Time),
			LastUpdated:    time.Now(),
		},
		filePath: filePath,
		done:     make(chan bool),
	}

	if err := sm.load(); err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", filePath).Msg("Failed to load existing state")
		} else {
			log.Info().Str("path", filePath).Msg("No existing state found, starting fresh")
		}
	} else {
		log.Info().
			Str("path", filePath).
			Int("threads", countThreads(sm.data.TrackedThreads)).
			Int("acknowledged", len(sm.data.Acknowledged)).
			Time("lastUpdated", sm.data.LastUpdated).
			Msg("Loaded existing state")
	}

	return sm, nil
}

// countThreads counts the total number of threads across all channels
func countThreads(threads map[string]map[string]time.Time) int {
	count := 0
	for _, t := range threads {
		count += len(t)
	}
	return count
}

// Start begins the periodic saving of state
func (sm *StateManager) Start() {
	sm.saveTicker = time.NewTicker(30 * time.Second)

	go func() {
		for {
			select {
			case <-sm.saveTicker.C:
				if err := sm.save(); err != nil {
					log.Error().Err(err).Msg("Failed to save state")
				}
			case <-sm.done:
				sm.saveTicker.Stop()
				return
			}
		}
	}()

	log.Info().Str("interval", "30s").Msg("State manager auto-save started")
}

// Stop stops the periodic saving and performs a final save
func (sm *StateManager) Stop() {
	sm.stopOnce.Do(func() { close(sm.done) })

	if err := sm.save(); err != nil {
		log.Error().Err(err).Msg("Failed to perform final state save")
	} else {
		log.Info().Msg("Final state saved successfully")
	}
}

// load reads the state from disk
func (sm *StateManager) load() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	data, err := os.ReadFile(sm.filePath)
	if err != nil {
		return err
	}

	var loaded StateData
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	if loaded.TrackedThreads != nil {
		sm.data.TrackedThreads = loaded.TrackedThreads
	}
	if loaded.Acknowledged != nil {
		sm.data.Acknowledged = loaded.Acknowledged
	}
	sm.data.LastUpdated = loaded.LastUpdated

	return nil
}

// save writes the current state to disk
func (sm *StateManager) save() error {
	sm.mu.Lock()
	sm.data.LastUpdated = time.Now()
	jsonData, err := json.MarshalIndent(sm.data, "", "  ")
	threads := countThreads(sm.data.TrackedThreads)
	acked := len(sm.data.Acknowledged)
	sm.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Replace atomically
	tmpPath := sm.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmpPath, sm.filePath); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	log.Debug().
		Str("path", sm.filePath).
		Int("threads", threads).
		Int("acknowledged", acked).
		Msg("State saved successfully")

	return nil
}

// GetTrackedThreads returns a copy of the tracked threads map
func (sm *StateManager) GetTrackedThreads() map[string]map[string]time.Time {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	result := make(map[string]map[string]time.Time)
	for channelID, threads := range sm.data.TrackedThreads {
		result[channelID] = make(map[string]time.Time)
		for threadTS, lastActivity := range threads {
			result[channelID][threadTS] = lastActivity
		}
	}

	return result
}

// UpdateThreadActivity records the last activity time for a thread
func (sm *StateManager) UpdateThreadActivity(channelID, threadTS string, activity time.Time) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, exists := sm.data.TrackedThreads[channelID]; !exists {
		sm.data.TrackedThreads[channelID] = make(map[string]time.Time)
	}
	if prev, ok := sm.data.TrackedThreads[channelID][threadTS]; ok && prev.After(activity) {
		return
	}
	sm.data.TrackedThreads[channelID][threadTS] = activity
}

// RemoveThread stops tracking a thread
func (sm *StateManager) RemoveThread(channelID, threadTS string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if threads, ok := sm.data.TrackedThreads[channelID]; ok {
		delete(threads, threadTS)
		if len(threads) == 0 {
			delete(sm.data.TrackedThreads, channelID)
		}
	}
}

// ackKey builds the key used for acknowledged messages
func ackKey(channelID, messageTS string) string {
	return fmt.Sprintf("%s:%s", channelID, messageTS)
}

// MarkAcknowledged records that the bot replied to a message
func (sm *StateManager) MarkAcknowledged(channelID, messageTS string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.data.Acknowledged[ackKey(channelID, messageTS)] = time.Now()
}

// IsAcknowledged checks if the bot already replied to a message
func (sm *StateManager) IsAcknowledged(channelID, messageTS string) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	_, exists := sm.data.Acknowledged[ackKey(channelID, messageTS)]
	return exists
}

// ForgetAcknowledged drops the acknowledgment record of a deleted message
func (sm *StateManager) ForgetAcknowledged(channelID, messageTS string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.data.Acknowledged, ackKey(channelID, messageTS))
}

// Prune removes acknowledgment records and tracked threads older than cutoff
func (sm *StateManager) Prune(cutoff time.Time) (acks int, threads int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for key, at := range sm.data.Acknowledged {
		if at.Before(cutoff) {
			delete(sm.data.Acknowledged, key)
			acks++
		}
	}

	for channelID, channelThreads := range sm.data.TrackedThreads {
		for threadTS, lastActivity := range channelThreads {
			if lastActivity.Before(cutoff) {
				delete(channelThreads, threadTS)
				threads++
			}
		}
		if len(channelThreads) == 0 {
			delete(sm.data.TrackedThreads, channelID)
		}
	}

	return acks, threads
}
