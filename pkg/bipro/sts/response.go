/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sts

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/maklerhaus/atlas/pkg/bipro/api"
	"github.com/maklerhaus/atlas/pkg/errors"
)

const defaultTokenLifetime = 30 * time.Minute

// authFaultCodes are the WS-Security fault codes that indicate an authentication failure.
// Any of these must surface as an auth error and invalidate a cached token.
var authFaultCodes = []string{ //nolint:gochecknoglobals
	"FailedAuthentication",
	"InvalidSecurityToken",
	"MessageExpired",
}

// parseTokenResponse extracts the issued token from a RequestSecurityTokenResponse.
func parseTokenResponse(body []byte, carrier string, variant api.AuthVariant, now time.Time) (*api.Token, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("parse STS response: %w", err)
	}

	if fault := findFault(doc.Root()); fault != nil {
		return nil, faultToError(fault)
	}

	requested := findLocal(doc.Root(), "RequestedSecurityToken")
	if requested == nil {
		return nil, fmt.Errorf("STS response contains no RequestedSecurityToken")
	}

	children := requested.ChildElements()
	if len(children) == 0 {
		return nil, fmt.Errorf("RequestedSecurityToken is empty")
	}

	assertionDoc := etree.NewDocument()
	assertionDoc.SetRoot(children[0].Copy())

	assertion, err := assertionDoc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serialize assertion: %w", err)
	}

	issuedAt, expiresAt := parseLifetime(doc.Root(), now)

	return &api.Token{
		Assertion: assertion,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		Carrier:   carrier,
		Variant:   variant,
	}, nil
}

func parseLifetime(root *etree.Element, now time.Time) (time.Time, time.Time) {
	issuedAt := now
	expiresAt := now.Add(defaultTokenLifetime)

	lifetime := findLocal(root, "Lifetime")
	if lifetime == nil {
		return issuedAt, expiresAt
	}

	if created := findLocal(lifetime, "Created"); created != nil {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(created.Text())); err == nil {
			issuedAt = t
		}
	}

	if expires := findLocal(lifetime, "Expires"); expires != nil {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(expires.Text())); err == nil {
			expiresAt = t
		}
	}

	return issuedAt, expiresAt
}

// parseFaultBody maps a SOAP fault body to a typed error.
func parseFaultBody(body []byte) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return fmt.Errorf("unparseable SOAP fault: %w", err)
	}

	fault := findFault(doc.Root())
	if fault == nil {
		return fmt.Errorf("response is not a SOAP fault")
	}

	return faultToError(fault)
}

func findFault(root *etree.Element) *etree.Element {
	return findLocal(root, "Fault")
}

func faultToError(fault *etree.Element) error {
	code := faultText(fault, "faultcode", "Code")
	reason := faultText(fault, "faultstring", "Reason")

	err := fmt.Errorf("SOAP fault [%s]: %s", code, reason)

	for _, authCode := range authFaultCodes {
		if strings.Contains(code, authCode) {
			return errors.NewAuthError(err)
		}
	}

	return err
}

func faultText(fault *etree.Element, names ...string) string {
	for _, name := range names {
		if el := findLocal(fault, name); el != nil {
			// SOAP 1.2 nests the text in Value/Text children.
			if value := findLocal(el, "Value"); value != nil {
				return strings.TrimSpace(value.Text())
			}

			if text := findLocal(el, "Text"); text != nil {
				return strings.TrimSpace(text.Text())
			}

			return strings.TrimSpace(el.Text())
		}
	}

	return ""
}

// findLocal performs a depth-first search for the first element with the given local name,
// ignoring namespaces. Carrier responses use a variety of namespace prefixes.
func findLocal(el *etree.Element, localName string) *etree.Element {
	if el == nil {
		return nil
	}

	if el.Tag == localName {
		return el
	}

	for _, child := range el.ChildElements() {
		if found := findLocal(child, localName); found != nil {
			return found
		}
	}

	return nil
}
