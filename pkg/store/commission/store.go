/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package commission implements storage for commission positions with the indices the
// import, matching and settlement flows query on.
package commission

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
	nameSpace = "commission"

	tagRowHash      = "rowHash"
	tagBatchID      = "batchId"
	tagMonth        = "month"
	tagConsultantID = "consultantId"
	tagMatchStatus  = "matchStatus"
)

var logger = log.New("commission-store")

// commissionDoc is the persisted form. The settlement month is derived from the payout
// date at write time so that it is queryable as a document field.
type commissionDoc struct {
	api.Commission

	Month string `json:"month"`
}

// New returns a new commission store.
func New(provider storage.Provider) (*Store, error) {
	s, err := store.Open(provider, nameSpace,
		store.NewTagGroup(tagRowHash),
		store.NewTagGroup(tagBatchID),
		store.NewTagGroup(tagMonth),
		store.NewTagGroup(tagConsultantID),
		store.NewTagGroup(tagMatchStatus),
	)
	if err != nil {
		return nil, fmt.Errorf("open commission store: %w", err)
	}

	return &Store{
		store:     s,
		marshal:   json.Marshal,
		unmarshal: json.Unmarshal,
	}, nil
}

// Store implements storage for commission positions.
type Store struct {
	store     storage.Store
	marshal   func(v interface{}) ([]byte, error)
	unmarshal func(data []byte, v interface{}) error
}

// Put saves a commission. If it already exists it will be overwritten.
func (s *Store) Put(commission *api.Commission) error {
	if commission.ID == "" {
		return fmt.Errorf("save commission: ID is empty")
	}

	doc := commissionDoc{
		Commission: *commission,
		Month:      api.MonthOf(commission.PayoutDate),
	}

	docBytes, err := s.marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal commission [%s]: %w", commission.ID, err)
	}

	tags := []storage.Tag{
		{Name: tagRowHash, Value: commission.RowHash},
		{Name: tagBatchID, Value: commission.BatchID},
		{Name: tagMonth, Value: doc.Month},
		{Name: tagMatchStatus, Value: string(commission.MatchStatus)},
	}

	if commission.ConsultantID != "" {
		tags = append(tags, storage.Tag{Name: tagConsultantID, Value: commission.ConsultantID})
	}

	if e := s.store.Put(commission.ID, docBytes, tags...); e != nil {
		return atlaserrors.NewTransient(fmt.Errorf("put commission [%s]: %w", commission.ID, e))
	}

	logger.Debug("Stored commission", log.WithCommissionID(commission.ID),
		log.WithVSNR(commission.VSNRNormalized), log.WithMonth(doc.Month))

	return nil
}

// Get retrieves a commission by id.
func (s *Store) Get(id string) (*api.Commission, error) {
	docBytes, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, atlaserrors.ErrNotFound
		}

		return nil, atlaserrors.NewTransient(fmt.Errorf("get commission [%s]: %w", id, err))
	}

	doc := &commissionDoc{}

	if err := s.unmarshal(docBytes, doc); err != nil {
		return nil, fmt.Errorf("unmarshal commission [%s]: %w", id, err)
	}

	return &doc.Commission, nil
}

// GetByRowHash returns the commission with the given row fingerprint, or ErrNotFound.
// The fingerprint is carrier-scoped by construction.
func (s *Store) GetByRowHash(rowHash string) (*api.Commission, error) {
	commissions, err := s.query(fmt.Sprintf("%s:%s", tagRowHash, rowHash))
	if err != nil {
		return nil, err
	}

	if len(commissions) == 0 {
		return nil, atlaserrors.ErrNotFound
	}

	return commissions[0], nil
}

// GetByBatch returns all commissions of an import batch.
func (s *Store) GetByBatch(batchID string) ([]*api.Commission, error) {
	return s.query(fmt.Sprintf("%s:%s", tagBatchID, batchID))
}

// GetByMonth returns all commissions whose payout date falls in the given month
// (YYYY-MM).
func (s *Store) GetByMonth(month string) ([]*api.Commission, error) {
	return s.query(fmt.Sprintf("%s:%s", tagMonth, month))
}

// GetByConsultant returns all commissions assigned to the given consultant.
func (s *Store) GetByConsultant(consultantID string) ([]*api.Commission, error) {
	return s.query(fmt.Sprintf("%s:%s", tagConsultantID, consultantID))
}

// GetByMatchStatus returns all commissions with the given match status.
func (s *Store) GetByMatchStatus(status api.MatchStatus) ([]*api.Commission, error) {
	return s.query(fmt.Sprintf("%s:%s", tagMatchStatus, status))
}

func (s *Store) query(expression string) ([]*api.Commission, error) {
	it, err := s.store.Query(expression)
	if err != nil {
		return nil, atlaserrors.NewTransient(fmt.Errorf("query commissions [%s]: %w", expression, err))
	}

	defer store.CloseIterator(it)

	var commissions []*api.Commission

	for {
		ok, err := it.Next()
		if err != nil {
			return nil, atlaserrors.NewTransient(fmt.Errorf("iterate commissions: %w", err))
		}

		if !ok {
			break
		}

		value, err := it.Value()
		if err != nil {
			return nil, atlaserrors.NewTransient(fmt.Errorf("get commission value: %w", err))
		}

		doc := &commissionDoc{}

		if err := s.unmarshal(value, doc); err != nil {
			return nil, fmt.Errorf("unmarshal commission: %w", err)
		}

		commissions = append(commissions, &doc.Commission)
	}

	return commissions, nil
}
