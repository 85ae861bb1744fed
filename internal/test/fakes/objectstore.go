package fakes

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/m-lab/scraper/internal/objectstore"
)

// ObjectStore is an in-memory stand-in for objectstore.Client. FailN
// attempts fail with Err before any subsequent Put succeeds, letting
// tests exercise the uploader's retry loop without a network.
type ObjectStore struct {
	Objects map[string][]byte

	FailN int
	Err   error

	attempts int
	Puts     []objectstore.PutInput
}

// NewObjectStore returns an empty fake store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{Objects: make(map[string][]byte)}
}

// Put implements the subset of objectstore.Client's contract the uploader
// depends on.
func (f *ObjectStore) Put(ctx context.Context, in objectstore.PutInput) error {
	f.Puts = append(f.Puts, in)
	f.attempts++
	if f.attempts <= f.FailN {
		if f.Err != nil {
			return f.Err
		}
		return errors.New("fake objectstore: injected failure")
	}

	buf := make([]byte, in.Size)
	if _, err := in.Body.ReadAt(buf, 0); err != nil && err != io.EOF {
		return err
	}
	key := in.Bucket + "/" + in.Key
	f.Objects[key] = bytes.Clone(buf)
	return nil
}
