/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package settlement implements storage for settlement snapshots. All revisions for a
// (month, employee) pair are retained; the highest revision is the current one.
package settlement

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/maklerhaus/atlas/pkg/commission/api"
	atlaserrors "github.com/maklerhaus/atlas/pkg/errors"
	"github.com/maklerhaus/atlas/pkg/store"
)

const (
	nameSpace = "settlement"

	tagMonth      = "month"
	tagEmployeeID = "employeeId"
)

// New returns a new settlement store.
func New(provider storage.Provider) (*Store, error) {
	s, err := store.Open(provider, nameSpace,
		store.NewTagGroup(tagMonth),
		store.NewTagGroup(tagEmployeeID),
	)
	if err != nil {
		return nil, fmt.Errorf("open settlement store: %w", err)
	}

	return &Store{
		store:     s,
		marshal:   json.Marshal,
		unmarshal: json.Unmarshal,
	}, nil
}

// Store implements storage for settlements.
type Store struct {
	store     storage.Store
	marshal   func(v interface{}) ([]byte, error)
	unmarshal func(data []byte, v interface{}) error
}

// Put saves a settlement revision. If it already exists it will be overwritten.
func (s *Store) Put(settlement *api.Settlement) error {
	if settlement.ID == "" {
		return fmt.Errorf("save settlement: ID is empty")
	}

	settlementBytes, err := s.marshal(settlement)
	if err != nil {
		return fmt.Errorf("marshal settlement [%s]: %w", settlement.ID, err)
	}

	tags := []storage.Tag{
		{Name: tagMonth, Value: settlement.Month},
		{Name: tagEmployeeID, Value: settlement.EmployeeID},
	}

	if e := s.store.Put(settlement.ID, settlementBytes, tags...); e != nil {
		return atlaserrors.NewTransient(fmt.Errorf("put settlement [%s]: %w", settlement.ID, e))
	}

	return nil
}

// Get retrieves a settlement by id.
func (s *Store) Get(id string) (*api.Settlement, error) {
	settlementBytes, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, atlaserrors.ErrNotFound
		}

		return nil, atlaserrors.NewTransient(fmt.Errorf("get settlement [%s]: %w", id, err))
	}

	settlement := &api.Settlement{}

	if err := s.unmarshal(settlementBytes, settlement); err != nil {
		return nil, fmt.Errorf("unmarshal settlement [%s]: %w", id, err)
	}

	return settlement, nil
}

// GetByMonth returns all settlement revisions for a month, ordered by employee then
// revision ascending.
func (s *Store) GetByMonth(month string) ([]*api.Settlement, error) {
	settlements, err := s.query(fmt.Sprintf("%s:%s", tagMonth, month))
	if err != nil {
		return nil, err
	}

	sort.Slice(settlements, func(i, j int) bool {
		if settlements[i].EmployeeID != settlements[j].EmployeeID {
			return settlements[i].EmployeeID < settlements[j].EmployeeID
		}

		return settlements[i].Revision < settlements[j].Revision
	})

	return settlements, nil
}

// GetRevisions returns all revisions for a (month, employee) pair, ordered by revision
// ascending.
func (s *Store) GetRevisions(month, employeeID string) ([]*api.Settlement, error) {
	settlements, err := s.GetByMonth(month)
	if err != nil {
		return nil, err
	}

	var revisions []*api.Settlement

	for _, settlement := range settlements {
		if settlement.EmployeeID == employeeID {
			revisions = append(revisions, settlement)
		}
	}

	return revisions, nil
}

// Delete removes a settlement revision by id.
func (s *Store) Delete(id string) error {
	if err := s.store.Delete(id); err != nil {
		return atlaserrors.NewTransient(fmt.Errorf("delete settlement [%s]: %w", id, err))
	}

	return nil
}

func (s *Store) query(expression string) ([]*api.Settlement, error) {
	it, err := s.store.Query(expression)
	if err != nil {
		return nil, atlaserrors.NewTransient(fmt.Errorf("query settlements [%s]: %w", expression, err))
	}

	defer store.CloseIterator(it)

	var settlements []*api.Settlement

	for {
		ok, err := it.Next()
		if err != nil {
			return nil, atlaserrors.NewTransient(fmt.Errorf("iterate settlements: %w", err))
		}

		if !ok {
			break
		}

		value, err := it.Value()
		if err != nil {
			return nil, atlaserrors.NewTransient(fmt.Errorf("get settlement value: %w", err))
		}

		settlement := &api.Settlement{}

		if err := s.unmarshal(value, settlement); err != nil {
			return nil, fmt.Errorf("unmarshal settlement: %w", err)
		}

		settlements = append(settlements, settlement)
	}

	return settlements, nil
}
