package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// UpdateBufferSize is the number of updates a listener may fall behind by
// before updates to it are dropped.
const UpdateBufferSize = 255

type InmemoryStore struct {
	valuesMu sync.RWMutex
	values   []byte

	mu          sync.Mutex
	updateChans []chan *Update

	// stop willl be closed when Close() is called
	stop chan struct{}
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values:      []byte(""),
		stop:        make(chan struct{}),
		updateChans: make([]chan *Update, 0),
	}
}

func (i *InmemoryStore) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return nil
	}

	close(i.stop)

	for _, updateChan := range i.updateChans {
		close(updateChan)
	}

	i.updateChans = nil

	return nil
}

func (i *InmemoryStore) Set(ctx context.Context, key []byte, value interface{}) error {
	return i.set(key, func(values []byte) ([]byte, error) {
		return sjson.SetBytes(values, string(key), value)
	})
}

func (i *InmemoryStore) SetRaw(ctx context.Context, key []byte, value []byte) error {
	if !gjson.ValidBytes(value) {
		return fmt.Errorf("Failed to set %s, value is not valid json", key)
	}

	return i.set(key, func(values []byte) ([]byte, error) {
		return sjson.SetRawBytes(values, string(key), value)
	})
}

func (i *InmemoryStore) set(key []byte, apply func([]byte) ([]byte, error)) error {
	i.valuesMu.Lock()
	values, err := apply(i.values)
	if err != nil {
		i.valuesMu.Unlock()
		return fmt.Errorf("Failed to set %s: %w", key, err)
	}

	i.values = values
	raw := []byte(gjson.GetBytes(values, string(key)).Raw)
	i.valuesMu.Unlock()

	i.notify(&Update{Key: key, Value: raw})

	return nil
}

// notify never blocks, a listener that is not keeping up misses updates.
func (i *InmemoryStore) notify(update *Update) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return
	}

	for _, updateChan := range i.updateChans {
		select {
		case updateChan <- update:
		default:
		}
	}
}

func (i *InmemoryStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	i.valuesMu.RLock()
	defer i.valuesMu.RUnlock()

	result := gjson.GetBytes(i.values, string(key))
	if !result.Exists() {
		return nil, fmt.Errorf("Failed to get %s: %w", key, ErrNotFound)
	}

	return []byte(result.Raw), nil
}

func (i *InmemoryStore) ListenToUpdates() <-chan *Update {
	i.mu.Lock()
	defer i.mu.Unlock()

	updateChan := make(chan *Update, UpdateBufferSize)

	if !i.isRunning() {
		close(updateChan)
		return updateChan
	}

	i.updateChans = append(i.updateChans, updateChan)

	return updateChan
}

// Unlisten stops and closes a channel returned by ListenToUpdates.
func (i *InmemoryStore) Unlisten(updates <-chan *Update) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for idx, updateChan := range i.updateChans {
		if updateChan == updates {
			close(updateChan)
			i.updateChans = append(i.updateChans[:idx], i.updateChans[idx+1:]...)
			return
		}
	}
}

func (i *InmemoryStore) Restore(values []byte) error {
	if len(values) > 0 && !gjson.ValidBytes(values) {
		return fmt.Errorf("Failed to restore, backup is not valid json")
	}

	i.valuesMu.Lock()
	defer i.valuesMu.Unlock()

	i.values = append([]byte(nil), values...)
	return nil
}

func (i *InmemoryStore) Backup() ([]byte, error) {
	i.valuesMu.RLock()
	defer i.valuesMu.RUnlock()

	if len(i.values) == 0 {
		return []byte("{}"), nil
	}

	return append([]byte(nil), i.values...), nil
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

var _ Store = (*InmemoryStore)(nil)
