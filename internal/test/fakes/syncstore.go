package fakes

import (
	"context"

	"github.com/m-lab/scraper/internal/model"
)

// SyncStore is an in-memory syncstore.Store double.
type SyncStore struct {
	records map[string]model.SyncRecord

	GetErr error
	PutErr error
}

// NewSyncStore returns an empty in-memory store.
func NewSyncStore() *SyncStore {
	return &SyncStore{records: make(map[string]model.SyncRecord)}
}

func (f *SyncStore) Get(ctx context.Context, namespace, key string) (*model.SyncRecord, error) {
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	rec, ok := f.records[namespace+"/"+key]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (f *SyncStore) Put(ctx context.Context, namespace, key string, rec model.SyncRecord) error {
	if f.PutErr != nil {
		return f.PutErr
	}
	f.records[namespace+"/"+key] = rec
	return nil
}
