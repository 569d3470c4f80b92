/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package contract implements storage for contracts with lookup by normalized policy
// number and by portal id.
package contract

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/maklerhaus/atlas/internal/pkg/log"
	"github.com/maklerhaus/atlas/pkg/commission/api"
	atlaserrors "github.com/maklerhaus/atlas/pkg/errors"
	"github.com/maklerhaus/atlas/pkg/store"
)

const (
	nameSpace = "contract"

	tagVSNRNormalized = "vsnrNormalized"
	tagXempusID       = "xempusId"
)

var logger = log.New("contract-store")

// New returns a new contract store.
func New(provider storage.Provider) (*Store, error) {
	s, err := store.Open(provider, nameSpace,
		store.NewTagGroup(tagVSNRNormalized),
		store.NewTagGroup(tagXempusID),
	)
	if err != nil {
		return nil, fmt.Errorf("open contract store: %w", err)
	}

	return &Store{
		store:     s,
		marshal:   json.Marshal,
		unmarshal: json.Unmarshal,
	}, nil
}

// Store implements storage for contracts.
type Store struct {
	store     storage.Store
	marshal   func(v interface{}) ([]byte, error)
	unmarshal func(data []byte, v interface{}) error
}

// Put saves a contract. If it already exists it will be overwritten.
func (s *Store) Put(contract *api.Contract) error {
	if contract.ID == "" {
		return fmt.Errorf("save contract: ID is empty")
	}

	contractBytes, err := s.marshal(contract)
	if err != nil {
		return fmt.Errorf("marshal contract [%s]: %w", contract.ID, err)
	}

	tags := []storage.Tag{
		{Name: tagVSNRNormalized, Value: contract.VSNRNormalized},
	}

	if contract.XempusID != "" {
		tags = append(tags, storage.Tag{Name: tagXempusID, Value: contract.XempusID})
	}

	if e := s.store.Put(contract.ID, contractBytes, tags...); e != nil {
		return atlaserrors.NewTransient(fmt.Errorf("put contract [%s]: %w", contract.ID, e))
	}

	logger.Debug("Stored contract", log.WithContractID(contract.ID), log.WithVSNR(contract.VSNRNormalized))

	return nil
}

// Get retrieves a contract by id.
func (s *Store) Get(id string) (*api.Contract, error) {
	contractBytes, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, atlaserrors.ErrNotFound
		}

		return nil, atlaserrors.NewTransient(fmt.Errorf("get contract [%s]: %w", id, err))
	}

	contract := &api.Contract{}

	if err := s.unmarshal(contractBytes, contract); err != nil {
		return nil, fmt.Errorf("unmarshal contract [%s]: %w", id, err)
	}

	return contract, nil
}

// GetByVSNR returns all contracts with the given normalized policy number.
func (s *Store) GetByVSNR(vsnrNormalized string) ([]*api.Contract, error) {
	return s.query(fmt.Sprintf("%s:%s", tagVSNRNormalized, vsnrNormalized))
}

// GetByXempusID returns the contract with the given portal id, or ErrNotFound.
func (s *Store) GetByXempusID(xempusID string) (*api.Contract, error) {
	contracts, err := s.query(fmt.Sprintf("%s:%s", tagXempusID, xempusID))
	if err != nil {
		return nil, err
	}

	if len(contracts) == 0 {
		return nil, atlaserrors.ErrNotFound
	}

	return contracts[0], nil
}

func (s *Store) query(expression string) ([]*api.Contract, error) {
	it, err := s.store.Query(expression)
	if err != nil {
		return nil, atlaserrors.NewTransient(fmt.Errorf("query contracts [%s]: %w", expression, err))
	}

	defer store.CloseIterator(it)

	var contracts []*api.Contract

	for {
		ok, err := it.Next()
		if err != nil {
			return nil, atlaserrors.NewTransient(fmt.Errorf("iterate contracts: %w", err))
		}

		if !ok {
			break
		}

		value, err := it.Value()
		if err != nil {
			return nil, atlaserrors.NewTransient(fmt.Errorf("get contract value: %w", err))
		}

		contract := &api.Contract{}

		if err := s.unmarshal(value, contract); err != nil {
			return nil, fmt.Errorf("unmarshal contract: %w", err)
		}

		contracts = append(contracts, contract)
	}

	return contracts, nil
}
