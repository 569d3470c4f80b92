/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"

	"github.com/maklerhaus/atlas/pkg/archive"
	"github.com/maklerhaus/atlas/pkg/bipro/api"
	"github.com/maklerhaus/atlas/pkg/bipro/transfer"
	"github.com/maklerhaus/atlas/pkg/errors"
)

const carrier = "Proxima Lebensversicherung"

type stubClient struct {
	mutex    sync.Mutex
	pending  []api.ShipmentInfo
	contents map[string]*api.ShipmentContent
	getErrs  map[string][]error
	acked    []string
	ackErr   error
}

func (s *stubClient) ListShipments(_ context.Context, filter transfer.ListFilter) ([]api.ShipmentInfo, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var result []api.ShipmentInfo

	for _, info := range s.pending {
		if info.Confirmed == filter.Confirmed {
			result = append(result, info)
		}
	}

	return result, nil
}

func (s *stubClient) GetShipment(_ context.Context, shipmentID string) (*api.ShipmentContent, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if queued := s.getErrs[shipmentID]; len(queued) > 0 {
		err := queued[0]
		s.getErrs[shipmentID] = queued[1:]

		return nil, err
	}

	content, ok := s.contents[shipmentID]
	if !ok {
		return nil, errors.ErrNotFound
	}

	return content, nil
}

func (s *stubClient) AcknowledgeShipment(_ context.Context, shipmentID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.ackErr != nil {
		return s.ackErr
	}

	s.acked = append(s.acked, shipmentID)

	for i, info := range s.pending {
		if info.ID == shipmentID {
			s.pending[i].Confirmed = true
		}
	}

	return nil
}

func (s *stubClient) ackedIDs() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return append([]string{}, s.acked...)
}

type stubLimiter struct {
	mutex    sync.Mutex
	observed []error
}

func (s *stubLimiter) Acquire(context.Context, string) error {
	return nil
}

func (s *stubLimiter) Observe(_ string, err error) {
	if err == nil {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.observed = append(s.observed, err)
}

type stubArchive struct {
	mutex   sync.Mutex
	uploads []string
	err     error
}

func (s *stubArchive) Upload(_ context.Context, filename string, _ []byte,
	_ archive.SourceType, _ archive.BoxType) (*archive.Document, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	s.uploads = append(s.uploads, filename)

	return &archive.Document{ID: "doc-" + filename, Filename: filename}, nil
}

func (s *stubArchive) uploadCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return len(s.uploads)
}

type stubPublisher struct {
	mutex  sync.Mutex
	events []ProgressEvent
}

func (s *stubPublisher) Publish(_ string, messages ...*message.Message) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, msg := range messages {
		var event ProgressEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			return err
		}

		s.events = append(s.events, event)
	}

	return nil
}

func (s *stubPublisher) count() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return len(s.events)
}

func newShipment(id string, docs ...api.Document) *api.ShipmentContent {
	return &api.ShipmentContent{
		ShipmentID:  id,
		Carrier:     carrier,
		Documents:   docs,
		RawEnvelope: []byte("<Envelope/>"),
	}
}

func pdf(name string) api.Document {
	return api.Document{Filename: name, MIMEType: "application/pdf", Content: []byte("%PDF")}
}

func TestRun(t *testing.T) {
	client := &stubClient{
		pending: []api.ShipmentInfo{
			{ID: "S-100", Category: "100100000"},
			{ID: "S-101", Category: "100100000"},
		},
		contents: map[string]*api.ShipmentContent{
			"S-100": newShipment("S-100", pdf("Anlage.pdf"),
				api.Document{Filename: "Police.xml", MIMEType: "text/xml", Content: []byte("<Police/>")}),
			"S-101": newShipment("S-101", pdf("Nachtrag.pdf")),
		},
	}

	store := &stubArchive{}
	pub := &stubPublisher{}

	o := New(Clients{carrier: client}, &stubLimiter{}, store, pub)

	result, err := o.Run(context.Background(), carrier)
	require.NoError(t, err)

	require.Equal(t, 2, result.Total)
	require.Equal(t, 2, result.Acknowledged)
	require.Empty(t, result.Failures)

	// Three documents plus two raw envelopes.
	require.Equal(t, 5, store.uploadCount())
	require.ElementsMatch(t, []string{"S-100", "S-101"}, client.ackedIDs())
	require.Equal(t, 2, pub.count())

	// A second listing returns nothing pending.
	remaining, err := client.ListShipments(context.Background(), transfer.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestRunThrottledShipmentRetried(t *testing.T) {
	throttled := errors.NewThrottled(fmt.Errorf("status 429"), 2*time.Second)

	client := &stubClient{
		pending: []api.ShipmentInfo{{ID: "S-100"}},
		contents: map[string]*api.ShipmentContent{
			"S-100": newShipment("S-100", pdf("Anlage.pdf")),
		},
		getErrs: map[string][]error{"S-100": {throttled}},
	}

	limiter := &stubLimiter{}

	o := New(Clients{carrier: client}, limiter, &stubArchive{}, &stubPublisher{})

	result, err := o.Run(context.Background(), carrier)
	require.NoError(t, err)

	require.Equal(t, 1, result.Acknowledged)
	require.Empty(t, result.Failures)

	require.Len(t, limiter.observed, 1)
	require.True(t, errors.IsThrottled(limiter.observed[0]))
}

func TestRunMissingDocumentNotAcknowledged(t *testing.T) {
	client := &stubClient{
		pending: []api.ShipmentInfo{{ID: "S-100"}},
		contents: map[string]*api.ShipmentContent{
			"S-100": newShipment("S-100", pdf("Anlage.pdf"), api.Document{Filename: "Fehlt.pdf", Missing: true}),
		},
	}

	store := &stubArchive{}

	o := New(Clients{carrier: client}, &stubLimiter{}, store, &stubPublisher{})

	result, err := o.Run(context.Background(), carrier)
	require.NoError(t, err)

	require.Equal(t, 0, result.Acknowledged)
	require.Len(t, result.Failures, 1)
	require.Equal(t, "S-100", result.Failures[0].ShipmentID)
	require.Empty(t, client.ackedIDs())

	// The resolvable document and the raw envelope were still persisted.
	require.Equal(t, 2, store.uploadCount())
}

func TestRunPersistFailureNotAcknowledged(t *testing.T) {
	client := &stubClient{
		pending: []api.ShipmentInfo{{ID: "S-100"}},
		contents: map[string]*api.ShipmentContent{
			"S-100": newShipment("S-100", pdf("Anlage.pdf")),
		},
	}

	store := &stubArchive{err: errors.NewTransientf("archive unavailable")}

	o := New(Clients{carrier: client}, &stubLimiter{}, store, &stubPublisher{})

	result, err := o.Run(context.Background(), carrier)
	require.NoError(t, err)

	require.Len(t, result.Failures, 1)
	require.Empty(t, client.ackedIDs())
}

func TestRunFailureDoesNotStopOthers(t *testing.T) {
	client := &stubClient{
		pending: []api.ShipmentInfo{{ID: "S-100"}, {ID: "S-101"}},
		contents: map[string]*api.ShipmentContent{
			"S-101": newShipment("S-101", pdf("Anlage.pdf")),
		},
	}

	o := New(Clients{carrier: client}, &stubLimiter{}, &stubArchive{}, &stubPublisher{})

	result, err := o.Run(context.Background(), carrier)
	require.NoError(t, err)

	require.Equal(t, 1, result.Acknowledged)
	require.Len(t, result.Failures, 1)
	require.Equal(t, "S-100", result.Failures[0].ShipmentID)
	require.ElementsMatch(t, []string{"S-101"}, client.ackedIDs())
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &stubClient{
		pending: []api.ShipmentInfo{{ID: "S-100"}},
		contents: map[string]*api.ShipmentContent{
			"S-100": newShipment("S-100", pdf("Anlage.pdf")),
		},
	}

	o := New(Clients{carrier: client}, &stubLimiter{}, &stubArchive{}, &stubPublisher{})

	_, err := o.Run(ctx, carrier)
	require.ErrorIs(t, err, errors.ErrCancelled)
	require.Empty(t, client.ackedIDs())
}

func TestRunUnknownCarrier(t *testing.T) {
	o := New(Clients{}, &stubLimiter{}, &stubArchive{}, &stubPublisher{})

	_, err := o.Run(context.Background(), "Unbekannt")
	require.Error(t, err)
	require.True(t, errors.IsBadRequest(err))
}

func TestRunAll(t *testing.T) {
	clientA := &stubClient{
		pending: []api.ShipmentInfo{{ID: "A-1"}},
		contents: map[string]*api.ShipmentContent{
			"A-1": newShipment("A-1", pdf("a.pdf")),
		},
	}

	clientB := &stubClient{
		pending: []api.ShipmentInfo{{ID: "B-1"}},
		contents: map[string]*api.ShipmentContent{
			"B-1": newShipment("B-1", pdf("b.pdf")),
		},
	}

	o := New(Clients{"A": clientA, "B": clientB}, &stubLimiter{}, &stubArchive{}, &stubPublisher{})

	results, err := o.RunAll(context.Background(), []string{"A", "B"})
	require.NoError(t, err)

	require.Len(t, results, 2)
	require.Equal(t, 1, results["A"].Acknowledged)
	require.Equal(t, 1, results["B"].Acknowledged)
}
