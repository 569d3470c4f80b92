/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package orchestrator drives the per-carrier shipment loop: list pending shipments,
// download, persist to the archive, acknowledge. Acknowledge happens strictly after
// every document and the raw envelope have been persisted.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/maklerhaus/atlas/internal/pkg/log"
	"github.com/maklerhaus/atlas/pkg/archive"
	"github.com/maklerhaus/atlas/pkg/bipro/api"
	"github.com/maklerhaus/atlas/pkg/bipro/transfer"
	"github.com/maklerhaus/atlas/pkg/errors"
)

var logger = log.New("orchestrator")

// ProgressTopic is the pub/sub topic progress events are published to.
const ProgressTopic = "transfer-progress"

const (
	defaultWorkersPerCarrier = 5
	defaultGlobalWorkers     = 20

	// maxThrottleRetries bounds how often a single shipment download is retried after
	// throttle feedback before it is recorded as failed.
	maxThrottleRetries = 3
)

// TransferClient is the subset of the transfer client the orchestrator drives.
type TransferClient interface {
	ListShipments(ctx context.Context, filter transfer.ListFilter) ([]api.ShipmentInfo, error)
	GetShipment(ctx context.Context, shipmentID string) (*api.ShipmentContent, error)
	AcknowledgeShipment(ctx context.Context, shipmentID string) error
}

// Clients maps carrier names to their transfer clients.
type Clients map[string]TransferClient

type rateLimiter interface {
	Acquire(ctx context.Context, carrier string) error
	Observe(carrier string, err error)
}

type archiveStore interface {
	Upload(ctx context.Context, filename string, content []byte,
		sourceType archive.SourceType, boxType archive.BoxType) (*archive.Document, error)
}

type publisher interface {
	Publish(topic string, messages ...*message.Message) error
}

type metricsProvider interface {
	ShipmentDownloaded(carrier string, value time.Duration)
	ShipmentAcknowledged(carrier string)
	ShipmentFailed(carrier string)
}

// ProgressEvent is published after each processed shipment.
type ProgressEvent struct {
	Carrier string `json:"carrier"`
	Done    int    `json:"done"`
	Total   int    `json:"total"`
	Current string `json:"current"`
}

// Failure records one shipment that could not be processed.
type Failure struct {
	ShipmentID string
	Err        error
}

// Result summarizes one orchestrator run for one carrier.
type Result struct {
	Carrier      string
	Total        int
	Acknowledged int
	Failures     []Failure
}

// Orchestrator runs the shipment loop for the configured carriers. One bounded worker
// pool per carrier, plus a global semaphore shared across carriers.
type Orchestrator struct {
	clients           Clients
	limiter           rateLimiter
	archive           archiveStore
	publisher         publisher
	metrics           metricsProvider
	clock             clockwork.Clock
	workersPerCarrier int
	globalSem         chan struct{}
}

// Option sets an option on an Orchestrator.
type Option func(*Orchestrator)

// WithWorkersPerCarrier sets the per-carrier worker pool size.
func WithWorkersPerCarrier(workers int) Option {
	return func(o *Orchestrator) {
		o.workersPerCarrier = workers
	}
}

// WithGlobalWorkers sets the global concurrency bound across all carriers.
func WithGlobalWorkers(workers int) Option {
	return func(o *Orchestrator) {
		o.globalSem = make(chan struct{}, workers)
	}
}

// WithMetrics sets the metrics provider.
func WithMetrics(m metricsProvider) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithClock sets the clock (used in tests).
func WithClock(clock clockwork.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = clock
	}
}

// New returns an orchestrator over the given per-carrier transfer clients.
func New(clients Clients, limiter rateLimiter, store archiveStore,
	pub publisher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		clients:           clients,
		limiter:           limiter,
		archive:           store,
		publisher:         pub,
		metrics:           noMetrics{},
		clock:             clockwork.NewRealClock(),
		workersPerCarrier: defaultWorkersPerCarrier,
		globalSem:         make(chan struct{}, defaultGlobalWorkers),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Run processes all pending shipments of one carrier. Per-shipment failures are recorded
// in the result and never abort the run; cancellation does.
func (o *Orchestrator) Run(ctx context.Context, carrier string) (*Result, error) {
	client, ok := o.clients[carrier]
	if !ok {
		return nil, errors.NewBadRequestf("no transfer client configured for carrier [%s]", carrier)
	}

	shipments, err := client.ListShipments(ctx, transfer.ListFilter{Confirmed: false})
	if err != nil {
		o.limiter.Observe(carrier, err)

		return nil, fmt.Errorf("list pending shipments: %w", err)
	}

	logger.Info("Processing pending shipments", log.WithCarrier(carrier),
		log.WithTotal(len(shipments)))

	result := &Result{Carrier: carrier, Total: len(shipments)}

	var (
		mutex sync.Mutex
		done  int32
		wg    sync.WaitGroup
	)

	jobs := make(chan api.ShipmentInfo)

	workers := o.workersPerCarrier
	if workers <= 0 {
		workers = 1
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for shipment := range jobs {
				err := o.process(ctx, carrier, client, shipment)

				mutex.Lock()
				if err != nil {
					result.Failures = append(result.Failures, Failure{ShipmentID: shipment.ID, Err: err})
				} else {
					result.Acknowledged++
				}
				mutex.Unlock()

				o.publishProgress(carrier, int(atomic.AddInt32(&done, 1)), len(shipments), shipment.ID)
			}
		}()
	}

	for _, shipment := range shipments {
		select {
		case jobs <- shipment:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()

			return result, errors.ErrCancelled
		}
	}

	close(jobs)
	wg.Wait()

	if ctx.Err() != nil {
		return result, errors.ErrCancelled
	}

	logger.Info("Finished shipment run", log.WithCarrier(carrier),
		log.WithTotal(result.Acknowledged))

	return result, nil
}

// RunAll runs all given carriers concurrently. The global semaphore still bounds the
// total number of in-flight shipments.
func (o *Orchestrator) RunAll(ctx context.Context, carriers []string) (map[string]*Result, error) {
	var (
		mutex    sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)

	results := make(map[string]*Result)

	for _, carrier := range carriers {
		wg.Add(1)

		go func(carrier string) {
			defer wg.Done()

			result, err := o.Run(ctx, carrier)

			mutex.Lock()
			defer mutex.Unlock()

			if result != nil {
				results[carrier] = result
			}

			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("carrier [%s]: %w", carrier, err)
			}
		}(carrier)
	}

	wg.Wait()

	return results, firstErr
}

// process runs the download-persist-acknowledge sequence for one shipment. The shipment
// is acknowledged only after every document and the raw envelope are persisted; any
// missing MTOM part leaves the shipment unacknowledged for the next run to retry.
func (o *Orchestrator) process(ctx context.Context, carrier string, client TransferClient,
	shipment api.ShipmentInfo) error {
	select {
	case o.globalSem <- struct{}{}:
	case <-ctx.Done():
		return errors.ErrCancelled
	}

	defer func() { <-o.globalSem }()

	start := o.clock.Now()

	content, err := o.download(ctx, carrier, client, shipment.ID)
	if err != nil {
		o.recordFailure(carrier, shipment.ID, err)

		return err
	}

	o.metrics.ShipmentDownloaded(carrier, o.clock.Since(start))

	if err := o.persist(ctx, content); err != nil {
		o.recordFailure(carrier, shipment.ID, err)

		return err
	}

	if content.HasMissingDocuments() {
		err := fmt.Errorf("shipment [%s] has missing MTOM parts, not acknowledging", shipment.ID)

		o.recordFailure(carrier, shipment.ID, err)

		return err
	}

	if ctx.Err() != nil {
		return errors.ErrCancelled
	}

	if err := client.AcknowledgeShipment(ctx, shipment.ID); err != nil {
		o.limiter.Observe(carrier, err)
		o.recordFailure(carrier, shipment.ID, err)

		return err
	}

	o.metrics.ShipmentAcknowledged(carrier)

	return nil
}

// download acquires the rate limiter and fetches the shipment, retrying a bounded number
// of times after throttle feedback. The limiter pause makes the retry wait out the
// carrier's Retry-After.
func (o *Orchestrator) download(ctx context.Context, carrier string, client TransferClient,
	shipmentID string) (*api.ShipmentContent, error) {
	var lastErr error

	for attempt := 0; attempt <= maxThrottleRetries; attempt++ {
		if err := o.limiter.Acquire(ctx, carrier); err != nil {
			return nil, errors.ErrCancelled
		}

		content, err := client.GetShipment(ctx, shipmentID)
		if err == nil {
			return content, nil
		}

		o.limiter.Observe(carrier, err)

		if !errors.IsThrottled(err) || ctx.Err() != nil {
			return nil, err
		}

		lastErr = err
	}

	return nil, lastErr
}

func (o *Orchestrator) persist(ctx context.Context, content *api.ShipmentContent) error {
	for i, doc := range content.Documents {
		if doc.Missing {
			continue
		}

		if ctx.Err() != nil {
			return errors.ErrCancelled
		}

		filename := doc.Filename
		if filename == "" {
			filename = fmt.Sprintf("%s-%d", content.ShipmentID, i+1)
		}

		if _, err := o.archive.Upload(ctx, filename, doc.Content,
			archive.SourceBiPRO, archive.BoxShipments); err != nil {
			return fmt.Errorf("persist document [%s] of shipment [%s]: %w",
				filename, content.ShipmentID, err)
		}
	}

	if ctx.Err() != nil {
		return errors.ErrCancelled
	}

	if _, err := o.archive.Upload(ctx, content.ShipmentID+".xml", content.RawEnvelope,
		archive.SourceBiPRO, archive.BoxShipments); err != nil {
		return fmt.Errorf("persist raw envelope of shipment [%s]: %w", content.ShipmentID, err)
	}

	return nil
}

func (o *Orchestrator) recordFailure(carrier, shipmentID string, err error) {
	o.metrics.ShipmentFailed(carrier)

	logger.Warn("Shipment failed", log.WithCarrier(carrier),
		log.WithShipmentID(shipmentID), log.WithError(err))
}

func (o *Orchestrator) publishProgress(carrier string, done, total int, current string) {
	payload, err := json.Marshal(ProgressEvent{
		Carrier: carrier,
		Done:    done,
		Total:   total,
		Current: current,
	})
	if err != nil {
		logger.Error("Marshal progress event", log.WithError(err))

		return
	}

	if err := o.publisher.Publish(ProgressTopic,
		message.NewMessage(uuid.New().String(), payload)); err != nil {
		logger.Warn("Publish progress event", log.WithTopic(ProgressTopic), log.WithError(err))
	}
}

type noMetrics struct{}

func (noMetrics) ShipmentDownloaded(string, time.Duration) {}
func (noMetrics) ShipmentAcknowledged(string)              {}
func (noMetrics) ShipmentFailed(string)                    {}
