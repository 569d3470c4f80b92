/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package healthcheck implements the /healthcheck endpoint of the operational server.
package healthcheck

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/maklerhaus/atlas/internal/pkg/log"
	"github.com/maklerhaus/atlas/pkg/httpserver"
)

var logger = log.New("healthcheck")

const (
	endpoint = "/healthcheck"

	success      = "success"
	notConnected = "not connected"
	unknown      = "unknown error"
)

type pubSub interface {
	IsConnected() bool
}

type db interface {
	Ping() error
}

// Handler implements the health check HTTP handler. Nil dependencies are skipped, so a
// server running on in-memory storage simply reports no DB status.
type Handler struct {
	pubSub pubSub
	db     db
	now    func() time.Time
}

// NewHandler returns a new health check handler.
func NewHandler(pubSub pubSub, db db) *Handler {
	return &Handler{
		pubSub: pubSub,
		db:     db,
		now:    time.Now,
	}
}

// Path returns the endpoint path.
func (h *Handler) Path() string {
	return endpoint
}

// Handler returns the HTTP handler.
func (h *Handler) Handler() http.Handler {
	return http.HandlerFunc(h.checkHealth)
}

type response struct {
	MQStatus    string    `json:"mqStatus,omitempty"`
	DBStatus    string    `json:"dbStatus,omitempty"`
	Status      string    `json:"status"`
	CurrentTime time.Time `json:"currentTime"`
	Version     string    `json:"version,omitempty"`
}

func (h *Handler) checkHealth(rw http.ResponseWriter, _ *http.Request) {
	unavailable := false

	mqUnavailable, mqStatus := h.mqHealthCheck()
	if mqUnavailable {
		unavailable = true
	}

	dbUnavailable, dbStatus := h.dbHealthCheck()
	if dbUnavailable {
		unavailable = true
	}

	status := http.StatusOK
	if unavailable {
		status = http.StatusServiceUnavailable
	}

	hc := &response{
		MQStatus:    mqStatus,
		DBStatus:    dbStatus,
		Status:      "OK",
		CurrentTime: h.now(),
		Version:     httpserver.BuildVersion,
	}

	if unavailable {
		hc.Status = "Unavailable"
	}

	hcBytes, err := json.Marshal(hc)
	if err != nil {
		logger.Error("Healthcheck marshal error", log.WithError(err))

		return
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)

	if _, err = rw.Write(hcBytes); err != nil {
		logger.Error("Healthcheck response failure", log.WithError(err))
	}
}

func (h *Handler) mqHealthCheck() (bool, string) {
	if h.pubSub == nil {
		return false, ""
	}

	if h.pubSub.IsConnected() {
		return false, success
	}

	return true, notConnected
}

func (h *Handler) dbHealthCheck() (bool, string) {
	if h.db == nil {
		return false, ""
	}

	err := h.db.Ping()
	if err == nil {
		return false, success
	}

	if err.Error() != "" {
		return true, err.Error()
	}

	return true, unknown
}
