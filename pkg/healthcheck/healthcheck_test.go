/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package healthcheck

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubPubSub struct {
	connected bool
}

func (s *stubPubSub) IsConnected() bool { return s.connected }

type stubDB struct {
	err error
}

func (s *stubDB) Ping() error { return s.err }

func invoke(t *testing.T, handler *Handler) (*httptest.ResponseRecorder, *response) {
	t.Helper()

	rec := httptest.NewRecorder()

	handler.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, endpoint, nil))

	var resp response

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	return rec, &resp
}

func TestHealthCheck(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		rec, resp := invoke(t, NewHandler(&stubPubSub{connected: true}, &stubDB{}))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "OK", resp.Status)
		require.Equal(t, "success", resp.MQStatus)
		require.Equal(t, "success", resp.DBStatus)
	})

	t.Run("nil dependencies are skipped", func(t *testing.T) {
		rec, resp := invoke(t, NewHandler(nil, nil))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Empty(t, resp.MQStatus)
		require.Empty(t, resp.DBStatus)
	})

	t.Run("pubsub down", func(t *testing.T) {
		rec, resp := invoke(t, NewHandler(&stubPubSub{}, &stubDB{}))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		require.Equal(t, "Unavailable", resp.Status)
		require.Equal(t, "not connected", resp.MQStatus)
	})

	t.Run("db down", func(t *testing.T) {
		rec, resp := invoke(t, NewHandler(&stubPubSub{connected: true},
			&stubDB{err: errors.New("connection refused")}))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		require.Equal(t, "connection refused", resp.DBStatus)
	})
}

func TestPath(t *testing.T) {
	require.Equal(t, "/healthcheck", NewHandler(nil, nil).Path())
}
