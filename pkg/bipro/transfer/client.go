/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package transfer implements the BiPRO TransferService client: list, get and
// acknowledge with pagination, MTOM handling, retries and error classification.
package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/maklerhaus/atlas/internal/pkg/log"
	"github.com/maklerhaus/atlas/pkg/bipro/api"
	"github.com/maklerhaus/atlas/pkg/bipro/mtom"
	"github.com/maklerhaus/atlas/pkg/errors"
)

var logger = log.New("transfer")

const (
	soapActionList        = "http://www.bipro.net/namespace/transfer/listShipments"
	soapActionGet         = "http://www.bipro.net/namespace/transfer/getShipment"
	soapActionAcknowledge = "http://www.bipro.net/namespace/transfer/acknowledgeShipment"

	contentTypeXML = "text/xml; charset=utf-8"

	// maxAttempts bounds the internal retries on transport errors and 5xx responses.
	maxAttempts = 4

	initialRetryInterval = 500 * time.Millisecond
)

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type tokenSource interface {
	Get(ctx context.Context, carrier *api.Carrier, variant api.AuthVariant,
		creds api.Credentials) (*api.Token, error)
	Invalidate(carrierName string, variant api.AuthVariant)
}

// Client talks to one carrier's TransferService. It is safe for concurrent use.
type Client struct {
	carrier    *api.Carrier
	variant    api.AuthVariant
	creds      api.Credentials
	tokens     tokenSource
	httpClient httpClient
	clock      clockwork.Clock
}

// Option sets an option on a Client.
type Option func(*Client)

// WithClock sets the clock (used in tests).
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// New returns a TransferService client for the given carrier, authenticating with the
// given variant and credentials through the token source.
func New(carrier *api.Carrier, variant api.AuthVariant, creds api.Credentials,
	tokens tokenSource, client httpClient, opts ...Option) *Client {
	c := &Client{
		carrier:    carrier,
		variant:    variant,
		creds:      creds,
		tokens:     tokens,
		httpClient: client,
		clock:      clockwork.NewRealClock(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ListShipments returns the shipments matching the filter, following continuation
// markers until the listing is exhausted. The aggregated list preserves carrier order.
func (c *Client) ListShipments(ctx context.Context, filter ListFilter) ([]api.ShipmentInfo, error) {
	var all []api.ShipmentInfo

	for {
		offset := len(all)

		body, err := c.call(ctx, soapActionList, c.timeouts().Read,
			func(token *api.Token) ([]byte, error) {
				return buildListRequest(token, filter, offset)
			})
		if err != nil {
			return nil, fmt.Errorf("list shipments from carrier [%s]: %w", c.carrier.Name, err)
		}

		shipments, more, err := parseListResponse(body)
		if err != nil {
			return nil, fmt.Errorf("list shipments from carrier [%s]: %w", c.carrier.Name, err)
		}

		all = append(all, shipments...)

		// An empty continuation page means the carrier's marker is broken. Stop rather
		// than loop forever.
		if !more || len(shipments) == 0 {
			break
		}
	}

	logger.Debug("Listed shipments", log.WithCarrier(c.carrier.Name), log.WithTotal(len(all)))

	return all, nil
}

// GetShipment downloads the content of one shipment. The MTOM response is split into
// documents and raw envelope. An unknown shipment ID surfaces as NotFound.
func (c *Client) GetShipment(ctx context.Context, shipmentID string) (*api.ShipmentContent, error) {
	var contentType string

	body, err := c.callCapture(ctx, soapActionGet, c.timeouts().Read, &contentType,
		func(token *api.Token) ([]byte, error) {
			return buildGetRequest(token, shipmentID)
		})
	if err != nil {
		return nil, fmt.Errorf("get shipment [%s] from carrier [%s]: %w", shipmentID, c.carrier.Name, err)
	}

	envelope, err := mtom.Split(contentType, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("split shipment [%s] from carrier [%s]: %w", shipmentID, c.carrier.Name, err)
	}

	if err := checkEnvelopeFault(envelope.XML); err != nil {
		return nil, fmt.Errorf("get shipment [%s] from carrier [%s]: %w", shipmentID, c.carrier.Name, err)
	}

	logger.Debug("Downloaded shipment", log.WithCarrier(c.carrier.Name),
		log.WithShipmentID(shipmentID), log.WithDocumentCount(len(envelope.Documents)))

	return &api.ShipmentContent{
		ShipmentID:  shipmentID,
		Carrier:     c.carrier.Name,
		Documents:   envelope.Documents,
		RawEnvelope: envelope.Raw,
	}, nil
}

// AcknowledgeShipment confirms receipt of one shipment. Acknowledging an already
// acknowledged shipment is not an error.
func (c *Client) AcknowledgeShipment(ctx context.Context, shipmentID string) error {
	body, err := c.call(ctx, soapActionAcknowledge, c.timeouts().Acknowledge,
		func(token *api.Token) ([]byte, error) {
			return buildAcknowledgeRequest(token, shipmentID)
		})
	if err != nil {
		return fmt.Errorf("acknowledge shipment [%s] at carrier [%s]: %w", shipmentID, c.carrier.Name, err)
	}

	if err := parseAcknowledgeResponse(body); err != nil {
		return fmt.Errorf("acknowledge shipment [%s] at carrier [%s]: %w", shipmentID, c.carrier.Name, err)
	}

	logger.Debug("Acknowledged shipment", log.WithCarrier(c.carrier.Name), log.WithShipmentID(shipmentID))

	return nil
}

func (c *Client) call(ctx context.Context, action string, timeout time.Duration,
	build func(*api.Token) ([]byte, error)) ([]byte, error) {
	var contentType string

	return c.callCapture(ctx, action, timeout, &contentType, build)
}

// callCapture performs one SOAP call with retries. Only transport errors and 5xx
// responses are retried; auth errors invalidate the cached token and throttle errors
// surface immediately for the rate limiter to handle.
func (c *Client) callCapture(ctx context.Context, action string, timeout time.Duration,
	contentType *string, build func(*api.Token) ([]byte, error)) ([]byte, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = initialRetryInterval
	expBackoff.RandomizationFactor = 1

	var body []byte

	operation := func() error {
		token, err := c.tokens.Get(ctx, c.carrier, c.variant, c.creds)
		if err != nil {
			if errors.IsTransient(err) {
				return err
			}

			return backoff.Permanent(err)
		}

		envelope, err := build(token)
		if err != nil {
			return backoff.Permanent(err)
		}

		ct, b, err := c.post(ctx, action, envelope, timeout)
		if err != nil {
			if errors.IsAuthError(err) {
				c.tokens.Invalidate(c.carrier.Name, c.variant)
			}

			if errors.IsTransient(err) {
				return err
			}

			return backoff.Permanent(err)
		}

		*contentType, body = ct, b

		return nil
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(expBackoff, maxAttempts-1), ctx))
	if err != nil {
		return nil, err
	}

	return body, nil
}

func (c *Client) post(ctx context.Context, action string, envelope []byte,
	timeout time.Duration) (string, []byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.carrier.TransferURL,
		bytes.NewReader(envelope))
	if err != nil {
		return "", nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeXML)
	req.Header.Set("SOAPAction", action)

	if c.carrier.ConsumerID != "" {
		req.Header.Set("X-Consumer-ID", c.carrier.ConsumerID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, errors.ErrCancelled
		}

		return "", nil, errors.NewTransient(err)
	}

	defer func() {
		log.CloseResponseBodyError(logger, resp.Body.Close())
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, errors.NewTransient(fmt.Errorf("read response: %w", err))
	}

	if err := classifyResponse(resp, body); err != nil {
		return "", nil, err
	}

	return resp.Header.Get("Content-Type"), body, nil
}

func classifyResponse(resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if err := parseFaultBody(body); errors.IsAuthError(err) {
			return err
		}

		return errors.NewAuthErrorf("TransferService returned status %d", resp.StatusCode)

	case resp.StatusCode == http.StatusNotFound:
		if errorCode(body) == errorCodeUnknownShipment {
			return fmt.Errorf("shipment unknown at carrier: %w", errors.ErrNotFound)
		}

		return fmt.Errorf("TransferService returned unexpected status %d", resp.StatusCode)

	case resp.StatusCode == http.StatusTooManyRequests:
		return errors.NewThrottled(
			fmt.Errorf("TransferService returned status %d", resp.StatusCode), retryAfter(resp))

	case resp.StatusCode >= http.StatusInternalServerError:
		if err := parseFaultBody(body); errors.IsAuthError(err) {
			return err
		}

		return errors.NewTransientf("TransferService returned status %d", resp.StatusCode)

	default:
		return fmt.Errorf("TransferService returned unexpected status %d", resp.StatusCode)
	}
}

func checkEnvelopeFault(xml []byte) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xml); err != nil {
		return fmt.Errorf("parse envelope: %w", err)
	}

	return faultToError(doc.Root())
}

func (c *Client) timeouts() api.Timeouts {
	timeouts := c.carrier.Timeouts
	defaults := api.DefaultTimeouts()

	if timeouts.Connect == 0 {
		timeouts.Connect = defaults.Connect
	}

	if timeouts.Read == 0 {
		timeouts.Read = defaults.Read
	}

	if timeouts.Acknowledge == 0 {
		timeouts.Acknowledge = defaults.Acknowledge
	}

	return timeouts
}

func retryAfter(resp *http.Response) time.Duration {
	seconds, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || seconds < 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}
