/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package startcmd wires the workbench together: storage, stores, pub/sub, the BiPRO
// transfer pipeline and the commission services, plus the operational HTTP server.
package startcmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperledger/aries-framework-go-ext/component/storage/mongodb"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/maklerhaus/atlas/internal/pkg/log"
	"github.com/maklerhaus/atlas/pkg/archive"
	"github.com/maklerhaus/atlas/pkg/bipro/orchestrator"
	"github.com/maklerhaus/atlas/pkg/bipro/ratelimit"
	"github.com/maklerhaus/atlas/pkg/bipro/sts"
	"github.com/maklerhaus/atlas/pkg/bipro/transfer"
	"github.com/maklerhaus/atlas/pkg/commission/importer"
	"github.com/maklerhaus/atlas/pkg/commission/inbox"
	"github.com/maklerhaus/atlas/pkg/commission/match"
	"github.com/maklerhaus/atlas/pkg/commission/observer"
	"github.com/maklerhaus/atlas/pkg/commission/settlement"
	"github.com/maklerhaus/atlas/pkg/commission/split"
	"github.com/maklerhaus/atlas/pkg/healthcheck"
	"github.com/maklerhaus/atlas/pkg/httpserver"
	"github.com/maklerhaus/atlas/pkg/metrics"
	"github.com/maklerhaus/atlas/pkg/pubsub/mempubsub"
	auditstore "github.com/maklerhaus/atlas/pkg/store/auditlog"
	commissionstore "github.com/maklerhaus/atlas/pkg/store/commission"
	contractstore "github.com/maklerhaus/atlas/pkg/store/contract"
	employeestore "github.com/maklerhaus/atlas/pkg/store/employee"
	importbatchstore "github.com/maklerhaus/atlas/pkg/store/importbatch"
	mappingstore "github.com/maklerhaus/atlas/pkg/store/mapping"
	ratemodelstore "github.com/maklerhaus/atlas/pkg/store/ratemodel"
	settlementstore "github.com/maklerhaus/atlas/pkg/store/settlement"
	"github.com/maklerhaus/atlas/pkg/taskmgr"
)

var logger = log.New("startcmd")

const (
	coordinationStoreName = "coordination"

	tokenSweepTaskID   = "token-cache-sweep"
	limiterProbeTaskID = "rate-limit-probe"
	shipmentSyncTaskID = "shipment-sync"
	inboxScanTaskID    = "inbox-scan"

	stopTimeout = 10 * time.Second
)

type dbPinger interface {
	Ping() error
}

// GetStartCmd returns the start command.
func GetStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start atlas-server",
		Long:  "Start the broker workbench server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			parameters, err := getParameters(cmd)
			if err != nil {
				return err
			}

			return startServer(parameters)
		},
	}

	createFlags(cmd)

	return cmd
}

func startServer(parameters *serverParameters) error {
	if parameters.logLevel != "" {
		if err := log.SetSpec(parameters.logLevel); err != nil {
			return fmt.Errorf("set log spec [%s]: %w", parameters.logLevel, err)
		}
	}

	storageProvider, pinger, err := createStorageProvider(parameters)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := storageProvider.Close(); closeErr != nil {
			logger.Warn("Error closing storage provider", log.WithError(closeErr))
		}
	}()

	pubSub := mempubsub.New(mempubsub.DefaultConfig())
	defer func() {
		if closeErr := pubSub.Close(); closeErr != nil {
			logger.Warn("Error closing pub/sub", log.WithError(closeErr))
		}
	}()

	m := metrics.Get()

	taskMgr, err := createTaskManager(storageProvider, parameters)
	if err != nil {
		return err
	}

	if err := wireTransferPipeline(parameters, pubSub, taskMgr, m); err != nil {
		return err
	}

	obs, err := wireCommissionServices(parameters, storageProvider, pubSub, taskMgr)
	if err != nil {
		return err
	}

	obs.Start()

	srv := httpserver.New(parameters.hostURL, parameters.tlsCertificate, parameters.tlsKey,
		parameters.serverIdleTimeout, parameters.serverReadHeaderTimeout,
		healthcheck.NewHandler(pubSub, pinger), newMetricsHandler())

	if err := srv.Start(); err != nil {
		return fmt.Errorf("start operational server: %w", err)
	}

	taskMgr.Start()

	logger.Info("Started atlas-server", log.WithAddress(parameters.hostURL))

	awaitInterrupt()

	taskMgr.Stop()
	obs.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		logger.Warn("Error stopping operational server", log.WithError(err))
	}

	return nil
}

func createStorageProvider(parameters *serverParameters) (storage.Provider, dbPinger, error) {
	if parameters.databaseType == databaseTypeMemOption {
		return mem.NewProvider(), nil, nil
	}

	var opts []mongodb.Option

	if parameters.databasePrefix != "" {
		opts = append(opts, mongodb.WithDBPrefix(parameters.databasePrefix))
	}

	provider, err := mongodb.NewProvider(parameters.databaseURL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create MongoDB storage provider: %w", err)
	}

	return provider, provider, nil
}

func createTaskManager(provider storage.Provider, parameters *serverParameters) (*taskmgr.Manager, error) {
	coordinationStore, err := provider.OpenStore(coordinationStoreName)
	if err != nil {
		return nil, fmt.Errorf("open coordination store: %w", err)
	}

	return taskmgr.New(coordinationStore, parameters.taskMgrCheckInterval), nil
}

// wireTransferPipeline builds the STS token cache, the adaptive rate limiter, the
// per-carrier transfer clients and the shipment orchestrator, and registers the periodic
// tasks that keep them healthy.
func wireTransferPipeline(parameters *serverParameters, pubSub *mempubsub.PubSub,
	taskMgr *taskmgr.Manager, m *metrics.Metrics) error {
	httpClient := &http.Client{}

	issuer := sts.NewIssuer(httpClient, sts.WithMetrics(m))
	tokenCache := sts.NewCache(issuer, sts.WithCacheMetrics(m))
	limiter := ratelimit.New(ratelimit.DefaultConfig(), ratelimit.WithMetrics(m))

	taskMgr.RegisterTask(tokenSweepTaskID, parameters.tokenSweepInterval, tokenCache.Sweep)
	taskMgr.RegisterTask(limiterProbeTaskID, ratelimit.DefaultConfig().Probe, limiter.Probe)

	if len(parameters.carriers) == 0 {
		logger.Info("No carriers configured, shipment sync is disabled")

		return nil
	}

	if parameters.archiveURL == "" {
		return fmt.Errorf("%s is required when carriers are configured", archiveURLFlagName)
	}

	archiveClient := archive.NewClient(parameters.archiveURL, httpClient)

	clients := orchestrator.Clients{}
	carrierNames := make([]string, 0, len(parameters.carriers))

	for i := range parameters.carriers {
		cfg := parameters.carriers[i]

		creds, err := cfg.Credentials.resolve()
		if err != nil {
			return fmt.Errorf("carrier [%s]: %w", cfg.Name, err)
		}

		clients[cfg.Name] = transfer.New(&cfg.Carrier, cfg.Variant, creds, tokenCache, httpClient)
		carrierNames = append(carrierNames, cfg.Name)

		logger.Info("Configured carrier", log.WithCarrier(cfg.Name),
			log.WithAuthVariant(cfg.Variant.String()))
	}

	orch := orchestrator.New(clients, limiter, archiveClient, pubSub, orchestrator.WithMetrics(m))

	taskMgr.RegisterTask(shipmentSyncTaskID, parameters.syncInterval, func() {
		if _, err := orch.RunAll(context.Background(), carrierNames); err != nil {
			logger.Error("Shipment sync failed", log.WithError(err))
		}
	})

	return nil
}

// wireCommissionServices opens the domain stores and builds the matcher, splitter,
// settlement builder and importer. The import inbox feeds the importer, and the observer
// carries finished batches through split computation and settlement regeneration.
func wireCommissionServices(parameters *serverParameters, provider storage.Provider,
	pubSub *mempubsub.PubSub, taskMgr *taskmgr.Manager) (*observer.Observer, error) {
	contracts, err := contractstore.New(provider)
	if err != nil {
		return nil, err
	}

	commissions, err := commissionstore.New(provider)
	if err != nil {
		return nil, err
	}

	employees, err := employeestore.New(provider)
	if err != nil {
		return nil, err
	}

	models, err := ratemodelstore.New(provider)
	if err != nil {
		return nil, err
	}

	mappings, err := mappingstore.New(provider)
	if err != nil {
		return nil, err
	}

	settlements, err := settlementstore.New(provider)
	if err != nil {
		return nil, err
	}

	batches, err := importbatchstore.New(provider)
	if err != nil {
		return nil, err
	}

	audit, err := auditstore.New(provider)
	if err != nil {
		return nil, err
	}

	matcher := match.New(contracts, mappings, commissions, audit)
	settlementSvc := settlement.New(commissions, settlements, audit)
	splitter := split.New(employees, models, commissions, settlements, settlementSvc, audit)
	importSvc := importer.New(commissions, contracts, mappings, batches, audit, matcher, pubSub)

	obs, err := observer.New(commissions, splitter, settlementSvc, pubSub)
	if err != nil {
		return nil, fmt.Errorf("create commission observer: %w", err)
	}

	if parameters.importInbox == "" {
		logger.Info("No import inbox configured, inbox scanning is disabled")

		return obs, nil
	}

	inboxSvc := inbox.New(parameters.importInbox, importSvc)

	taskMgr.RegisterTask(inboxScanTaskID, parameters.inboxScanInterval, func() {
		if err := inboxSvc.Scan(context.Background()); err != nil {
			logger.Error("Inbox scan failed", log.WithError(err))
		}
	})

	return obs, nil
}

func awaitInterrupt() {
	interrupt := make(chan os.Signal, 1)

	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-interrupt

	logger.Info("Shutting down...")
}

type metricsHandler struct {
	handler http.Handler
}

func newMetricsHandler() *metricsHandler {
	return &metricsHandler{handler: promhttp.Handler()}
}

func (h *metricsHandler) Path() string {
	return "/metrics"
}

func (h *metricsHandler) Handler() http.Handler {
	return h.handler
}
