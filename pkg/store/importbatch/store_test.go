/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package importbatch

import (
	"testing"
	"time"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/stretchr/testify/require"

	"github.com/maklerhaus/atlas/pkg/commission/api"
)

func TestStore(t *testing.T) {
	s, err := New(mem.NewProvider())
	require.NoError(t, err)

	batch := &api.ImportBatch{
		ID:         "b1",
		SourceType: api.SourceCarrierSheet,
		Carrier:    "Barmenia",
		Filename:   "provisionen-2025-02.xlsx",
		Total:      10,
		Imported:   9,
		Skipped:    1,
		CreatedAt:  time.Now().UTC(),
		FileSHA256: "abc123",
	}

	require.NoError(t, s.Put(batch))

	got, err := s.Get("b1")
	require.NoError(t, err)
	require.Equal(t, batch.Filename, got.Filename)

	byHash, err := s.GetByFileHash("abc123")
	require.NoError(t, err)
	require.Len(t, byHash, 1)

	byHash, err = s.GetByFileHash("unknown")
	require.NoError(t, err)
	require.Empty(t, byHash)
}
