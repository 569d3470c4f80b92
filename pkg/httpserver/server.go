/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package httpserver serves the operational endpoints (health check and metrics). The
// BiPRO transfer and commission flows are driven through the service layer, not through
// this server.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/maklerhaus/atlas/internal/pkg/log"
)

var (
	logger = log.New("httpserver")

	// BuildVersion contains the version of the build. It is set at link time.
	BuildVersion string
)

// Handler is an HTTP handler bound to a path.
type Handler interface {
	Path() string
	Handler() http.Handler
}

// Server implements the operational HTTP server.
type Server struct {
	httpServer *http.Server
	started    uint32
	certFile   string
	keyFile    string
}

// New returns a new HTTP server listening on the given address. TLS is used when both
// certFile and keyFile are set.
func New(addr, certFile, keyFile string, idleTimeout, readHeaderTimeout time.Duration,
	handlers ...Handler) *Server {
	mux := http.NewServeMux()

	for _, handler := range handlers {
		logger.Info("Registering handler", log.WithAddress(handler.Path()))

		mux.Handle(handler.Path(), handler.Handler())
	}

	return &Server{
		certFile: certFile,
		keyFile:  keyFile,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			IdleTimeout:       idleTimeout,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// Start starts the HTTP server in a separate Go routine.
func (s *Server) Start() error {
	if !atomic.CompareAndSwapUint32(&s.started, 0, 1) {
		return fmt.Errorf("server already started")
	}

	go func() {
		logger.Info("Listening for requests", log.WithAddress(s.httpServer.Addr))

		var err error
		if s.keyFile != "" && s.certFile != "" {
			err = s.httpServer.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(fmt.Sprintf("Failed to start server on [%s]: %s", s.httpServer.Addr, err))
		}

		atomic.StoreUint32(&s.started, 0)

		logger.Info("Server has stopped")
	}()

	return nil
}

// Stop shuts the server down, waiting for in-flight requests up to the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&s.started, 1, 0) {
		return fmt.Errorf("cannot stop HTTP server since it hasn't been started")
	}

	return s.httpServer.Shutdown(ctx)
}
