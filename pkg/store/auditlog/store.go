/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package auditlog implements the append-only audit trail. Writes are serialized per
// (entity-type, entity-id) so that the causal order within one entity is preserved.
package auditlog

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/maklerhaus/atlas/internal/pkg/log"
	"github.com/maklerhaus/atlas/pkg/commission/api"
	atlaserrors "github.com/maklerhaus/atlas/pkg/errors"
	"github.com/maklerhaus/atlas/pkg/store"
)

const (
	nameSpace = "audit-log"

	tagEntityKey = "entityKey"
)

var logger = log.New("audit-log")

// entryDoc is the persisted form. The entity key combines type and id into one
// queryable field; seq disambiguates entries written within the same timestamp tick.
type entryDoc struct {
	api.AuditEntry

	EntityKey string `json:"entityKey"`
	Seq       uint64 `json:"seq"`
}

// New returns a new audit log store.
func New(provider storage.Provider) (*Store, error) {
	s, err := store.Open(provider, nameSpace, store.NewTagGroup(tagEntityKey))
	if err != nil {
		return nil, fmt.Errorf("open audit log store: %w", err)
	}

	return &Store{
		store:     s,
		locks:     make(map[string]*sync.Mutex),
		marshal:   json.Marshal,
		unmarshal: json.Unmarshal,
	}, nil
}

// Store implements the append-only audit log.
type Store struct {
	store     storage.Store
	mutex     sync.Mutex
	locks     map[string]*sync.Mutex
	seq       uint64
	marshal   func(v interface{}) ([]byte, error)
	unmarshal func(data []byte, v interface{}) error
}

// Append writes one audit entry. ID, timestamp and ordering are assigned here; entries
// for the same entity are serialized.
func (s *Store) Append(entityType, entityID, action, actor string, diff json.RawMessage) error {
	key := entityKey(entityType, entityID)

	lock := s.entityLock(key)
	lock.Lock()
	defer lock.Unlock()

	s.mutex.Lock()
	s.seq++
	seq := s.seq
	s.mutex.Unlock()

	doc := entryDoc{
		AuditEntry: api.AuditEntry{
			ID:         uuid.New().String(),
			EntityType: entityType,
			EntityID:   entityID,
			Action:     action,
			Actor:      actor,
			CreatedAt:  time.Now(),
			Diff:       diff,
		},
		EntityKey: key,
		Seq:       seq,
	}

	docBytes, err := s.marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	tag := storage.Tag{Name: tagEntityKey, Value: key}

	if e := s.store.Put(doc.ID, docBytes, tag); e != nil {
		return atlaserrors.NewTransient(fmt.Errorf("put audit entry for [%s]: %w", key, e))
	}

	logger.Debug("Appended audit entry", log.WithActor(actor), log.WithStatus(action))

	return nil
}

// GetByEntity returns all audit entries for one entity in write order.
func (s *Store) GetByEntity(entityType, entityID string) ([]*api.AuditEntry, error) {
	it, err := s.store.Query(fmt.Sprintf("%s:%s", tagEntityKey, entityKey(entityType, entityID)))
	if err != nil {
		return nil, atlaserrors.NewTransient(fmt.Errorf("query audit entries: %w", err))
	}

	defer store.CloseIterator(it)

	var docs []*entryDoc

	for {
		ok, err := it.Next()
		if err != nil {
			return nil, atlaserrors.NewTransient(fmt.Errorf("iterate audit entries: %w", err))
		}

		if !ok {
			break
		}

		value, err := it.Value()
		if err != nil {
			return nil, atlaserrors.NewTransient(fmt.Errorf("get audit entry value: %w", err))
		}

		doc := &entryDoc{}

		if err := s.unmarshal(value, doc); err != nil {
			return nil, fmt.Errorf("unmarshal audit entry: %w", err)
		}

		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}

		return docs[i].Seq < docs[j].Seq
	})

	entries := make([]*api.AuditEntry, len(docs))

	for i, doc := range docs {
		entry := doc.AuditEntry

		entries[i] = &entry
	}

	return entries, nil
}

func (s *Store) entityLock(key string) *sync.Mutex {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}

	return lock
}

func entityKey(entityType, entityID string) string {
	return entityType + "_" + entityID
}
