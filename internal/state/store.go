// Package state persists the device's outbound position: the sequence
// counter and the last known connection state.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	ErrPersist                = errors.New("state: persist failed")
	ErrUnknownConnectionState = errors.New("state: unknown connection state")
)

// ConnectionState is the session lifecycle as seen by the device.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func ParseConnectionState(raw string) (ConnectionState, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "disconnected", "":
		return Disconnected, nil
	case "connecting":
		return Connecting, nil
	case "connected":
		return Connected, nil
	default:
		return Disconnected, fmt.Errorf("%w: %q", ErrUnknownConnectionState, raw)
	}
}

// PersistedState is the on-disk document.
type PersistedState struct {
	Sequence        uint32 `json:"sequence"`
	ConnectionState string `json:"connection_state"`
}

// FileStore keeps PersistedState in one JSON file. It is written from a
// single goroutine; last write wins.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: strings.TrimSpace(path)}
}

func (s *FileStore) Path() string {
	return s.path
}

// Load returns the persisted sequence, or 0 when there is nothing usable.
// The connection state is advisory and not checked here.
func (s *FileStore) Load() uint32 {
	st, err := s.read()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", s.path).Msg("state.FileStore.Load unreadable state, starting fresh")
		}
		return 0
	}
	if _, err := ParseConnectionState(st.ConnectionState); err != nil {
		log.Warn().Err(err).Str("path", s.path).Uint32("sequence", st.Sequence).Msg("state.FileStore.Load ignoring connection state")
	}
	return st.Sequence
}

// Snapshot reads the full persisted document, rejecting an unknown
// connection state.
func (s *FileStore) Snapshot() (PersistedState, error) {
	st, err := s.read()
	if err != nil {
		return PersistedState{}, err
	}
	if _, err := ParseConnectionState(st.ConnectionState); err != nil {
		return PersistedState{}, err
	}
	return st, nil
}

func (s *FileStore) read() (PersistedState, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return PersistedState{}, err
	}
	var st PersistedState
	if err := json.Unmarshal(raw, &st); err != nil {
		return PersistedState{}, fmt.Errorf("state: decode %s: %w", s.path, err)
	}
	return st, nil
}

// Save writes seq and cs through a temp file and rename so a crash mid-write
// leaves the previous document intact.
func (s *FileStore) Save(seq uint32, cs ConnectionState) error {
	raw, err := json.MarshalIndent(PersistedState{
		Sequence:        seq,
		ConnectionState: cs.String(),
	}, "", "    ")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}
