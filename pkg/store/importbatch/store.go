/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package importbatch implements storage for import batch records with lookup by source
// file hash.
package importbatch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/maklerhaus/atlas/pkg/commission/api"
	atlaserrors "github.com/maklerhaus/atlas/pkg/errors"
	"github.com/maklerhaus/atlas/pkg/store"
)

const (
	nameSpace = "import-batch"

	tagFileSHA256 = "fileSha256"
)

// New returns a new import batch store.
func New(provider storage.Provider) (*Store, error) {
	s, err := store.Open(provider, nameSpace, store.NewTagGroup(tagFileSHA256))
	if err != nil {
		return nil, fmt.Errorf("open import batch store: %w", err)
	}

	return &Store{
		store:     s,
		marshal:   json.Marshal,
		unmarshal: json.Unmarshal,
	}, nil
}

// Store implements storage for import batches.
type Store struct {
	store     storage.Store
	marshal   func(v interface{}) ([]byte, error)
	unmarshal func(data []byte, v interface{}) error
}

// Put saves an import batch.
func (s *Store) Put(batch *api.ImportBatch) error {
	if batch.ID == "" {
		return fmt.Errorf("save import batch: ID is empty")
	}

	batchBytes, err := s.marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal import batch [%s]: %w", batch.ID, err)
	}

	tag := storage.Tag{Name: tagFileSHA256, Value: batch.FileSHA256}

	if e := s.store.Put(batch.ID, batchBytes, tag); e != nil {
		return atlaserrors.NewTransient(fmt.Errorf("put import batch [%s]: %w", batch.ID, e))
	}

	return nil
}

// Get retrieves an import batch by id.
func (s *Store) Get(id string) (*api.ImportBatch, error) {
	batchBytes, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, atlaserrors.ErrNotFound
		}

		return nil, atlaserrors.NewTransient(fmt.Errorf("get import batch [%s]: %w", id, err))
	}

	batch := &api.ImportBatch{}

	if err := s.unmarshal(batchBytes, batch); err != nil {
		return nil, fmt.Errorf("unmarshal import batch [%s]: %w", id, err)
	}

	return batch, nil
}

// GetByFileHash returns all batches imported from the file with the given SHA-256.
func (s *Store) GetByFileHash(fileSHA256 string) ([]*api.ImportBatch, error) {
	it, err := s.store.Query(fmt.Sprintf("%s:%s", tagFileSHA256, fileSHA256))
	if err != nil {
		return nil, atlaserrors.NewTransient(fmt.Errorf("query import batches: %w", err))
	}

	defer store.CloseIterator(it)

	var batches []*api.ImportBatch

	for {
		ok, err := it.Next()
		if err != nil {
			return nil, atlaserrors.NewTransient(fmt.Errorf("iterate import batches: %w", err))
		}

		if !ok {
			break
		}

		value, err := it.Value()
		if err != nil {
			return nil, atlaserrors.NewTransient(fmt.Errorf("get import batch value: %w", err))
		}

		batch := &api.ImportBatch{}

		if err := s.unmarshal(value, batch); err != nil {
			return nil, fmt.Errorf("unmarshal import batch: %w", err)
		}

		batches = append(batches, batch)
	}

	return batches, nil
}
