/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package sts implements the BiPRO security token service client: one authentication
// adapter per variant, WS-Trust request construction, and a process-wide token cache.
package sts

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/maklerhaus/atlas/internal/pkg/log"
	"github.com/maklerhaus/atlas/pkg/bipro/api"
	"github.com/maklerhaus/atlas/pkg/errors"
)

var logger = log.New("sts")

const (
	soapActionIssue = "http://docs.oasis-open.org/ws-sx/ws-trust/200512/RST/Issue"

	contentTypeXML = "text/xml; charset=utf-8"
)

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type metricsProvider interface {
	TokenIssued(value time.Duration)
}

// Issuer requests security tokens from carrier STS endpoints. One Issuer serves all
// carriers; the authentication variant is chosen per call.
type Issuer struct {
	httpClient httpClient
	clock      clockwork.Clock
	metrics    metricsProvider
}

// IssuerOption sets an option on an Issuer.
type IssuerOption func(*Issuer)

// WithClock sets the clock (used in tests).
func WithClock(clock clockwork.Clock) IssuerOption {
	return func(i *Issuer) {
		i.clock = clock
	}
}

// WithMetrics sets the metrics provider.
func WithMetrics(m metricsProvider) IssuerOption {
	return func(i *Issuer) {
		i.metrics = m
	}
}

// NewIssuer returns a new token issuer.
func NewIssuer(client httpClient, opts ...IssuerOption) *Issuer {
	issuer := &Issuer{
		httpClient: client,
		clock:      clockwork.NewRealClock(),
		metrics:    noMetrics{},
	}

	for _, opt := range opts {
		opt(issuer)
	}

	return issuer
}

// IssueToken authenticates against the carrier's STS with the given variant and returns
// the issued token. The variant must be listed as supported by the carrier; requesting an
// unsupported variant is a programming error and is rejected as a bad request.
func (i *Issuer) IssueToken(ctx context.Context, carrier *api.Carrier, variant api.AuthVariant,
	creds api.Credentials) (*api.Token, error) {
	if !carrier.Supports(variant) {
		return nil, errors.NewBadRequestf("carrier [%s] does not support authentication variant [%s]",
			carrier.Name, variant)
	}

	if variant == api.VariantCertificate {
		return nil, errors.NewBadRequestf(
			"variant [%s] authenticates the transport directly; use BuildTransport", variant)
	}

	var keyPair *KeyPair

	if variant.RequiresCertificate() {
		kp, err := LoadKeyPair(creds)
		if err != nil {
			return nil, fmt.Errorf("load keystore for carrier [%s]: %w", carrier.Name, err)
		}

		keyPair = kp
	}

	now := i.clock.Now()

	envelope, err := buildRequestSecurityToken(carrier, variant, creds, keyPair, now)
	if err != nil {
		return nil, fmt.Errorf("build RequestSecurityToken for carrier [%s]: %w", carrier.Name, err)
	}

	start := i.clock.Now()

	respBody, err := i.post(ctx, carrier, envelope)
	if err != nil {
		return nil, fmt.Errorf("request token from carrier [%s]: %w", carrier.Name, err)
	}

	token, err := parseTokenResponse(respBody, carrier.Name, variant, now)
	if err != nil {
		return nil, fmt.Errorf("parse token response from carrier [%s]: %w", carrier.Name, err)
	}

	i.metrics.TokenIssued(i.clock.Since(start))

	logger.Debug("Issued security token", log.WithCarrier(carrier.Name),
		log.WithAuthVariant(variant.String()), log.WithTokenExpiry(token.ExpiresAt))

	return token, nil
}

// BuildTransport returns the mutually-authenticated TLS configuration for the certificate
// variant, which does not involve the STS at all.
func (i *Issuer) BuildTransport(carrier *api.Carrier, creds api.Credentials) (*tls.Config, error) {
	if !carrier.Supports(api.VariantCertificate) {
		return nil, errors.NewBadRequestf("carrier [%s] does not support authentication variant [%s]",
			carrier.Name, api.VariantCertificate)
	}

	keyPair, err := LoadKeyPair(creds)
	if err != nil {
		return nil, fmt.Errorf("load keystore for carrier [%s]: %w", carrier.Name, err)
	}

	return keyPair.TLSConfig(), nil
}

func (i *Issuer) post(ctx context.Context, carrier *api.Carrier, envelope []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, carrier.STSURL, bytes.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeXML)
	req.Header.Set("SOAPAction", soapActionIssue)

	if carrier.ConsumerID != "" {
		req.Header.Set("X-Consumer-ID", carrier.ConsumerID)
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.ErrCancelled
		}

		return nil, errors.NewTransient(err)
	}

	defer func() {
		log.CloseResponseBodyError(logger, resp.Body.Close())
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewTransient(fmt.Errorf("read response: %w", err))
	}

	return classifyResponse(resp, body)
}

func classifyResponse(resp *http.Response, body []byte) ([]byte, error) {
	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if err := parseFaultBody(body); errors.IsAuthError(err) {
			return nil, err
		}

		return nil, errors.NewAuthErrorf("STS returned status %d", resp.StatusCode)

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.NewThrottled(
			fmt.Errorf("STS returned status %d", resp.StatusCode), retryAfter(resp))

	case resp.StatusCode >= http.StatusInternalServerError:
		// 500 responses may carry a SOAP fault with an auth fault code.
		if err := parseFaultBody(body); errors.IsAuthError(err) {
			return nil, err
		}

		return nil, errors.NewTransientf("STS returned status %d", resp.StatusCode)

	default:
		return nil, fmt.Errorf("STS returned unexpected status %d", resp.StatusCode)
	}
}

func retryAfter(resp *http.Response) time.Duration {
	seconds, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || seconds < 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}

type noMetrics struct{}

func (noMetrics) TokenIssued(time.Duration) {}
