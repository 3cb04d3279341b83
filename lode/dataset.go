package lode

import (
	"github.com/justapithecus/lode/lode"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "agent"

// NewDataset creates the chat dataset: JSONL segments under a Hive layout
// partitioned by record_kind and day.
func NewDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout("record_kind", "day"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// NewFSFactory returns a store factory rooted at a local directory.
func NewFSFactory(root string) lode.StoreFactory {
	return lode.NewFSFactory(root)
}

// SharedFactory returns a factory that always yields st, so that several
// datasets can observe the same in-memory state.
func SharedFactory(st lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return st, nil }
}
