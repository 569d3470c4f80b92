/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package employee implements storage for employees.
package employee

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
	nameSpace = "employee"

	tagRole              = "role"
	tagCommissionModelID = "commissionModelId"
)

// New returns a new employee store.
func New(provider storage.Provider) (*Store, error) {
	s, err := store.Open(provider, nameSpace,
		store.NewTagGroup(tagRole),
		store.NewTagGroup(tagCommissionModelID),
	)
	if err != nil {
		return nil, fmt.Errorf("open employee store: %w", err)
	}

	return &Store{
		store:     s,
		marshal:   json.Marshal,
		unmarshal: json.Unmarshal,
	}, nil
}

// Store implements storage for employees.
type Store struct {
	store     storage.Store
	marshal   func(v interface{}) ([]byte, error)
	unmarshal func(data []byte, v interface{}) error
}

// Put saves an employee. If it already exists it will be overwritten.
func (s *Store) Put(employee *api.Employee) error {
	if employee.ID == "" {
		return fmt.Errorf("save employee: ID is empty")
	}

	employeeBytes, err := s.marshal(employee)
	if err != nil {
		return fmt.Errorf("marshal employee [%s]: %w", employee.ID, err)
	}

	tags := []storage.Tag{
		{Name: tagRole, Value: string(employee.Role)},
	}

	if employee.CommissionModelID != "" {
		tags = append(tags, storage.Tag{Name: tagCommissionModelID, Value: employee.CommissionModelID})
	}

	if e := s.store.Put(employee.ID, employeeBytes, tags...); e != nil {
		return atlaserrors.NewTransient(fmt.Errorf("put employee [%s]: %w", employee.ID, e))
	}

	return nil
}

// Get retrieves an employee by id.
func (s *Store) Get(id string) (*api.Employee, error) {
	employeeBytes, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, atlaserrors.ErrNotFound
		}

		return nil, atlaserrors.NewTransient(fmt.Errorf("get employee [%s]: %w", id, err))
	}

	employee := &api.Employee{}

	if err := s.unmarshal(employeeBytes, employee); err != nil {
		return nil, fmt.Errorf("unmarshal employee [%s]: %w", id, err)
	}

	return employee, nil
}

// GetByRole returns all employees with the given role.
func (s *Store) GetByRole(role api.Role) ([]*api.Employee, error) {
	return s.query(fmt.Sprintf("%s:%s", tagRole, role))
}

// GetByModel returns all employees assigned to the given commission model.
func (s *Store) GetByModel(modelID string) ([]*api.Employee, error) {
	return s.query(fmt.Sprintf("%s:%s", tagCommissionModelID, modelID))
}

func (s *Store) query(expression string) ([]*api.Employee, error) {
	it, err := s.store.Query(expression)
	if err != nil {
		return nil, atlaserrors.NewTransient(fmt.Errorf("query employees [%s]: %w", expression, err))
	}

	defer store.CloseIterator(it)

	var employees []*api.Employee

	for {
		ok, err := it.Next()
		if err != nil {
			return nil, atlaserrors.NewTransient(fmt.Errorf("iterate employees: %w", err))
		}

		if !ok {
			break
		}

		value, err := it.Value()
		if err != nil {
			return nil, atlaserrors.NewTransient(fmt.Errorf("get employee value: %w", err))
		}

		employee := &api.Employee{}

		if err := s.unmarshal(value, employee); err != nil {
			return nil, fmt.Errorf("unmarshal employee: %w", err)
		}

		employees = append(employees, employee)
	}

	return employees, nil
}
