/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ratemodel implements storage for commission rate model versions. Versions of
// one model share a name; effective-from selection is done in memory by the splitter.
package ratemodel

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
	nameSpace = "commission-model"

	tagName = "name"
)

// New returns a new rate model store.
func New(provider storage.Provider) (*Store, error) {
	s, err := store.Open(provider, nameSpace, store.NewTagGroup(tagName))
	if err != nil {
		return nil, fmt.Errorf("open rate model store: %w", err)
	}

	return &Store{
		store:     s,
		marshal:   json.Marshal,
		unmarshal: json.Unmarshal,
	}, nil
}

// Store implements storage for rate model versions.
type Store struct {
	store     storage.Store
	marshal   func(v interface{}) ([]byte, error)
	unmarshal func(data []byte, v interface{}) error
}

// Put saves a rate model version. If it already exists it will be overwritten.
func (s *Store) Put(model *api.CommissionModel) error {
	if model.ID == "" {
		return fmt.Errorf("save rate model: ID is empty")
	}

	modelBytes, err := s.marshal(model)
	if err != nil {
		return fmt.Errorf("marshal rate model [%s]: %w", model.ID, err)
	}

	tag := storage.Tag{Name: tagName, Value: model.Name}

	if e := s.store.Put(model.ID, modelBytes, tag); e != nil {
		return atlaserrors.NewTransient(fmt.Errorf("put rate model [%s]: %w", model.ID, e))
	}

	return nil
}

// Get retrieves a rate model version by id.
func (s *Store) Get(id string) (*api.CommissionModel, error) {
	modelBytes, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, atlaserrors.ErrNotFound
		}

		return nil, atlaserrors.NewTransient(fmt.Errorf("get rate model [%s]: %w", id, err))
	}

	model := &api.CommissionModel{}

	if err := s.unmarshal(modelBytes, model); err != nil {
		return nil, fmt.Errorf("unmarshal rate model [%s]: %w", id, err)
	}

	return model, nil
}

// GetVersions returns all versions sharing the given model name, ordered by
// effective-from ascending.
func (s *Store) GetVersions(name string) ([]*api.CommissionModel, error) {
	models, err := s.query(fmt.Sprintf("%s:%s", tagName, name))
	if err != nil {
		return nil, err
	}

	sortByEffectiveFrom(models)

	return models, nil
}

func sortByEffectiveFrom(models []*api.CommissionModel) {
	sort.Slice(models, func(i, j int) bool {
		return models[i].EffectiveFrom.Before(models[j].EffectiveFrom)
	})
}

func (s *Store) query(expression string) ([]*api.CommissionModel, error) {
	it, err := s.store.Query(expression)
	if err != nil {
		return nil, atlaserrors.NewTransient(fmt.Errorf("query rate models [%s]: %w", expression, err))
	}

	defer store.CloseIterator(it)

	var models []*api.CommissionModel

	for {
		ok, err := it.Next()
		if err != nil {
			return nil, atlaserrors.NewTransient(fmt.Errorf("iterate rate models: %w", err))
		}

		if !ok {
			break
		}

		value, err := it.Value()
		if err != nil {
			return nil, atlaserrors.NewTransient(fmt.Errorf("get rate model value: %w", err))
		}

		model := &api.CommissionModel{}

		if err := s.unmarshal(value, model); err != nil {
			return nil, fmt.Errorf("unmarshal rate model: %w", err)
		}

		models = append(models, model)
	}

	return models, nil
}
