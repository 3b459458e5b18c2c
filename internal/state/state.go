package state

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// MaxCommandHistory bounds the persisted command history
const MaxCommandHistory = 50

// State represents the persisted UI state
type State struct {
	// Last gateway address that was connected to
	LastAddress string `yaml:"last_address,omitempty"`

	// Last active tab
	ActiveTab int `yaml:"active_tab"`

	// Log follow mode
	LogFollow bool `yaml:"log_follow"`

	// Commands sent to the agent, oldest first
	CommandHistory []string `yaml:"command_history,omitempty"`
}

// DefaultState returns a new state with default values
func DefaultState() *State {
	return &State{
		ActiveTab: 0,
		LogFollow: true,
	}
}

// RecordCommand appends cmd to the history, skipping immediate repeats
func (s *State) RecordCommand(cmd string) {
	if cmd == "" {
		return
	}
	if n := len(s.CommandHistory); n > 0 && s.CommandHistory[n-1] == cmd {
		return
	}
	s.CommandHistory = append(s.CommandHistory, cmd)
	if over := len(s.CommandHistory) - MaxCommandHistory; over > 0 {
		s.CommandHistory = append([]string(nil), s.CommandHistory[over:]...)
	}
}

// StatePath returns the full path to the state file
func StatePath() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "agentdash", "state.yml"), nil
}

// Load loads the state from disk
func Load() (*State, error) {
	path, err := StatePath()
	if err != nil {
		return DefaultState(), err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultState(), nil
		}
		return DefaultState(), err
	}

	state := DefaultState()
	if err := yaml.Unmarshal(data, state); err != nil {
		return DefaultState(), err
	}

	return state, nil
}

// Save writes the state to disk atomically
func Save(state *State) error {
	path, err := StatePath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(state)
	if err != nil {
		return err
	}

	// Write atomically: write to temp file, then rename
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}
