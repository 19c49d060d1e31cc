package persist

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/memory"
)

const snapshotVersion = 1

/*
Snapshot is the serialized form of a full memory export. Entries carry
their embeddings inline so a restore does not need an embedding
provider.
*/
type Snapshot struct {
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	Count     int             `json:"count"`
	Entries   []*memory.Entry `json:"entries"`
}

/*
ObjectStore is the blob surface snapshots are written through. Conn
implements it against S3, tests swap in an in-memory map.
*/
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Remove(ctx context.Context, key string) error
}

/*
SnapshotStore saves and restores memory exports as JSON objects under
a common prefix, one object per snapshot.
*/
type SnapshotStore struct {
	objects ObjectStore
	prefix  string
	clock   memory.Clock
}

type SnapshotStoreOption func(*SnapshotStore)

func NewSnapshotStore(objects ObjectStore, options ...SnapshotStoreOption) *SnapshotStore {
	store := &SnapshotStore{
		objects: objects,
		prefix:  "snapshots/",
		clock:   memory.SystemClock(),
	}

	for _, option := range options {
		option(store)
	}

	return store
}

/*
Save writes the entries as one snapshot object and returns its key.
*/
func (store *SnapshotStore) Save(ctx context.Context, name string, entries []*memory.Entry) (string, error) {
	snapshot := Snapshot{
		Version:   snapshotVersion,
		CreatedAt: store.clock.Now(),
		Count:     len(entries),
		Entries:   entries,
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", errors.ErrSerialization.Wrap(err)
	}

	key := store.prefix + name
	if err := store.objects.Put(ctx, key, data); err != nil {
		log.Error("failed to store snapshot", "key", key, "error", err)
		return "", err
	}

	log.Debug("snapshot saved", "key", key, "entries", len(entries))
	return key, nil
}

/*
Load reads a snapshot back by the name it was saved under. A count
that disagrees with the entry list marks the object as corrupt.
*/
func (store *SnapshotStore) Load(ctx context.Context, name string) ([]*memory.Entry, error) {
	data, err := store.objects.Get(ctx, store.prefix+name)
	if err != nil {
		return nil, err
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, errors.ErrSerialization.Wrap(err)
	}

	if snapshot.Version != snapshotVersion {
		return nil, errors.ErrSerialization.WithMessagef(
			"unsupported snapshot version %d", snapshot.Version,
		)
	}

	if snapshot.Count != len(snapshot.Entries) {
		return nil, errors.ErrSerialization.WithMessagef(
			"snapshot claims %d entries, holds %d", snapshot.Count, len(snapshot.Entries),
		)
	}

	return snapshot.Entries, nil
}

/*
ListNames returns the saved snapshot names in lexical order.
*/
func (store *SnapshotStore) ListNames(ctx context.Context) ([]string, error) {
	keys, err := store.objects.List(ctx, store.prefix)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, key[len(store.prefix):])
	}

	sort.Strings(names)
	return names, nil
}

/*
Delete removes a snapshot by name.
*/
func (store *SnapshotStore) Delete(ctx context.Context, name string) error {
	return store.objects.Remove(ctx, store.prefix+name)
}

func WithPrefix(prefix string) SnapshotStoreOption {
	return func(store *SnapshotStore) {
		store.prefix = prefix
	}
}

func WithSnapshotClock(clock memory.Clock) SnapshotStoreOption {
	return func(store *SnapshotStore) {
		store.clock = clock
	}
}
