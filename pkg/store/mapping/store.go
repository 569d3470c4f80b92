/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mapping implements storage for intermediary-name mappings. The normalized name
// is unique; Put replaces an existing mapping for the same normalized name.
package mapping

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
	nameSpace = "intermediary-mapping"

	tagNameNormalized = "nameNormalized"
	tagEmployeeID     = "employeeId"
)

// New returns a new intermediary mapping store.
func New(provider storage.Provider) (*Store, error) {
	s, err := store.Open(provider, nameSpace,
		store.NewTagGroup(tagNameNormalized),
		store.NewTagGroup(tagEmployeeID),
	)
	if err != nil {
		return nil, fmt.Errorf("open intermediary mapping store: %w", err)
	}

	return &Store{
		store:     s,
		marshal:   json.Marshal,
		unmarshal: json.Unmarshal,
	}, nil
}

// Store implements storage for intermediary mappings.
type Store struct {
	store     storage.Store
	marshal   func(v interface{}) ([]byte, error)
	unmarshal func(data []byte, v interface{}) error
}

// Put saves a mapping. An existing mapping for the same normalized name is replaced so
// that the normalized name stays unique.
func (s *Store) Put(mapping *api.IntermediaryMapping) error {
	if mapping.ID == "" {
		return fmt.Errorf("save intermediary mapping: ID is empty")
	}

	if mapping.NameNormalized == "" {
		return fmt.Errorf("save intermediary mapping: normalized name is empty")
	}

	existing, err := s.GetByName(mapping.NameNormalized)
	if err != nil && !errors.Is(err, atlaserrors.ErrNotFound) {
		return err
	}

	if existing != nil && existing.ID != mapping.ID {
		if e := s.store.Delete(existing.ID); e != nil {
			return atlaserrors.NewTransient(fmt.Errorf("replace intermediary mapping [%s]: %w", existing.ID, e))
		}
	}

	mappingBytes, err := s.marshal(mapping)
	if err != nil {
		return fmt.Errorf("marshal intermediary mapping [%s]: %w", mapping.ID, err)
	}

	tags := []storage.Tag{
		{Name: tagNameNormalized, Value: mapping.NameNormalized},
		{Name: tagEmployeeID, Value: mapping.EmployeeID},
	}

	if e := s.store.Put(mapping.ID, mappingBytes, tags...); e != nil {
		return atlaserrors.NewTransient(fmt.Errorf("put intermediary mapping [%s]: %w", mapping.ID, e))
	}

	return nil
}

// GetByName returns the mapping for the given normalized name, or ErrNotFound.
func (s *Store) GetByName(nameNormalized string) (*api.IntermediaryMapping, error) {
	mappings, err := s.query(fmt.Sprintf("%s:%s", tagNameNormalized, nameNormalized))
	if err != nil {
		return nil, err
	}

	if len(mappings) == 0 {
		return nil, atlaserrors.ErrNotFound
	}

	return mappings[0], nil
}

// GetByEmployee returns all mappings pointing at the given employee.
func (s *Store) GetByEmployee(employeeID string) ([]*api.IntermediaryMapping, error) {
	return s.query(fmt.Sprintf("%s:%s", tagEmployeeID, employeeID))
}

// Delete removes a mapping by id.
func (s *Store) Delete(id string) error {
	if err := s.store.Delete(id); err != nil {
		return atlaserrors.NewTransient(fmt.Errorf("delete intermediary mapping [%s]: %w", id, err))
	}

	return nil
}

func (s *Store) query(expression string) ([]*api.IntermediaryMapping, error) {
	it, err := s.store.Query(expression)
	if err != nil {
		return nil, atlaserrors.NewTransient(fmt.Errorf("query intermediary mappings [%s]: %w", expression, err))
	}

	defer store.CloseIterator(it)

	var mappings []*api.IntermediaryMapping

	for {
		ok, err := it.Next()
		if err != nil {
			return nil, atlaserrors.NewTransient(fmt.Errorf("iterate intermediary mappings: %w", err))
		}

		if !ok {
			break
		}

		value, err := it.Value()
		if err != nil {
			return nil, atlaserrors.NewTransient(fmt.Errorf("get intermediary mapping value: %w", err))
		}

		mapping := &api.IntermediaryMapping{}

		if err := s.unmarshal(value, mapping); err != nil {
			return nil, fmt.Errorf("unmarshal intermediary mapping: %w", err)
		}

		mappings = append(mappings, mapping)
	}

	return mappings, nil
}
