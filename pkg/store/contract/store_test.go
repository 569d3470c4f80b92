/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package contract

import (
	"testing"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/stretchr/testify/require"

	"github.com/maklerhaus/atlas/pkg/commission/api"
	"github.com/maklerhaus/atlas/pkg/errors"
)

func TestStore(t *testing.T) {
	s, err := New(mem.NewProvider())
	require.NoError(t, err)

	c := &api.Contract{
		ID:             "c1",
		VSNR:           "12-345",
		VSNRNormalized: "12345",
		Carrier:        "Barmenia",
		Status:         api.ContractOpen,
		Origin:         api.OriginXempus,
		XempusID:       "X-100",
	}

	require.NoError(t, s.Put(c))

	got, err := s.Get("c1")
	require.NoError(t, err)
	require.Equal(t, c, got)

	byVSNR, err := s.GetByVSNR("12345")
	require.NoError(t, err)
	require.Len(t, byVSNR, 1)
	require.Equal(t, "c1", byVSNR[0].ID)

	byPortal, err := s.GetByXempusID("X-100")
	require.NoError(t, err)
	require.Equal(t, "c1", byPortal.ID)

	_, err = s.Get("missing")
	require.ErrorIs(t, err, errors.ErrNotFound)

	_, err = s.GetByXempusID("missing")
	require.ErrorIs(t, err, errors.ErrNotFound)

	byVSNR, err = s.GetByVSNR("99999")
	require.NoError(t, err)
	require.Empty(t, byVSNR)
}

func TestPutValidation(t *testing.T) {
	s, err := New(mem.NewProvider())
	require.NoError(t, err)

	err = s.Put(&api.Contract{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "ID is empty")
}
