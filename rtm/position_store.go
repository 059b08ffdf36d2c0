package rtm

import (
	"encoding/json"
	"errors"
	"os"
	"sort"
	"sync"

	"github.com/Thejuampi/rtm-client-go/rtm/internal/wal"
)

// PositionStore remembers the last position of each subscription so a
// resubscribe can resume where the previous one stopped.
type PositionStore interface {
	Save(subscriptionID string, position string)
	Load(subscriptionID string) (string, bool)
	Remove(subscriptionID string)
	Flush() error
}

// MemoryPositionStore keeps positions in memory.
type MemoryPositionStore struct {
	lock      sync.Mutex
	positions map[string]string
}

// NewMemoryPositionStore returns an empty MemoryPositionStore.
func NewMemoryPositionStore() *MemoryPositionStore {
	return &MemoryPositionStore{positions: make(map[string]string)}
}

// Save records position for subscriptionID. Empty values are ignored.
func (store *MemoryPositionStore) Save(subscriptionID string, position string) {
	if store == nil || subscriptionID == "" || position == "" {
		return
	}
	store.lock.Lock()
	store.positions[subscriptionID] = position
	store.lock.Unlock()
}

// Load returns the stored position for subscriptionID.
func (store *MemoryPositionStore) Load(subscriptionID string) (string, bool) {
	if store == nil {
		return "", false
	}
	store.lock.Lock()
	defer store.lock.Unlock()
	position, exists := store.positions[subscriptionID]
	return position, exists
}

// Remove forgets subscriptionID.
func (store *MemoryPositionStore) Remove(subscriptionID string) {
	if store == nil {
		return
	}
	store.lock.Lock()
	delete(store.positions, subscriptionID)
	store.lock.Unlock()
}

// Flush is a no-op.
func (store *MemoryPositionStore) Flush() error { return nil }

func (store *MemoryPositionStore) snapshot() map[string]string {
	store.lock.Lock()
	defer store.lock.Unlock()
	positions := make(map[string]string, len(store.positions))
	for subscriptionID, position := range store.positions {
		positions[subscriptionID] = position
	}
	return positions
}

type positionFileEntry struct {
	SubscriptionID string `json:"subscription_id"`
	Position       string `json:"position"`
}

type positionFileState struct {
	Entries []positionFileEntry `json:"entries"`
}

// FilePositionStore is a MemoryPositionStore persisted as JSON at path.
// Flush writes the file atomically.
type FilePositionStore struct {
	*MemoryPositionStore
	path      string
	flushLock sync.Mutex
}

// NewFilePositionStore loads path, when it exists, and returns the store.
func NewFilePositionStore(path string) (*FilePositionStore, error) {
	store := &FilePositionStore{MemoryPositionStore: NewMemoryPositionStore(), path: path}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (store *FilePositionStore) load() error {
	data, err := wal.Read(store.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	state := positionFileState{}
	if err = json.Unmarshal(data, &state); err != nil {
		return err
	}
	for _, entry := range state.Entries {
		store.Save(entry.SubscriptionID, entry.Position)
	}
	return nil
}

// Flush writes every position to the file.
func (store *FilePositionStore) Flush() error {
	if store == nil {
		return nil
	}
	positions := store.snapshot()
	subscriptionIDs := make([]string, 0, len(positions))
	for subscriptionID := range positions {
		subscriptionIDs = append(subscriptionIDs, subscriptionID)
	}
	sort.Strings(subscriptionIDs)

	state := positionFileState{Entries: make([]positionFileEntry, 0, len(subscriptionIDs))}
	for _, subscriptionID := range subscriptionIDs {
		state.Entries = append(state.Entries, positionFileEntry{
			SubscriptionID: subscriptionID,
			Position:       positions[subscriptionID],
		})
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	store.flushLock.Lock()
	defer store.flushLock.Unlock()
	return wal.WriteAtomic(store.path, data, 0600)
}
