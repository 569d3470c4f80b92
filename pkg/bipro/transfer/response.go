/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transfer

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/maklerhaus/atlas/pkg/bipro/api"
	"github.com/maklerhaus/atlas/pkg/errors"
)

const errorCodeUnknownShipment = "liefernummer_unbekannt"

// authFaultCodes are the WS-Security fault codes that indicate a rejected token. They
// surface as AuthError and invalidate the cached token.
var authFaultCodes = []string{ //nolint:gochecknoglobals
	"FailedAuthentication",
	"InvalidSecurityToken",
	"MessageExpired",
}

// parseListResponse extracts the shipment listing and the continuation marker from a
// listShipments response body.
func parseListResponse(body []byte) ([]api.ShipmentInfo, bool, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, false, fmt.Errorf("parse listShipments response: %w", err)
	}

	if err := faultToError(doc.Root()); err != nil {
		return nil, false, err
	}

	var shipments []api.ShipmentInfo

	for _, elem := range findAllLocal(doc.Root(), "Lieferung") {
		info, err := parseShipment(elem)
		if err != nil {
			return nil, false, err
		}

		shipments = append(shipments, info)
	}

	more := false

	if marker := findLocal(doc.Root(), "WeitereLieferungenVorhanden"); marker != nil {
		text := strings.TrimSpace(marker.Text())
		more = strings.EqualFold(text, "true") || text == "1"
	}

	return shipments, more, nil
}

func parseShipment(elem *etree.Element) (api.ShipmentInfo, error) {
	info := api.ShipmentInfo{
		ID:       childText(elem, "Liefernummer", "ID"),
		Category: childText(elem, "Kategorie"),
	}

	if info.ID == "" {
		return api.ShipmentInfo{}, fmt.Errorf("shipment entry has no Liefernummer")
	}

	if created := childText(elem, "Erstellt", "Erstellungsdatum"); created != "" {
		ts, err := time.Parse(time.RFC3339, created)
		if err != nil {
			return api.ShipmentInfo{}, fmt.Errorf("parse shipment [%s] creation time: %w", info.ID, err)
		}

		info.CreatedAt = ts
	}

	confirmed := childText(elem, "Bestaetigt")
	info.Confirmed = strings.EqualFold(confirmed, "true") || confirmed == "1"

	return info, nil
}

// parseAcknowledgeResponse returns nil on success. An "already acknowledged" fault counts
// as success since acknowledge is at-least-once.
func parseAcknowledgeResponse(body []byte) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return fmt.Errorf("parse acknowledgeShipment response: %w", err)
	}

	err := faultToError(doc.Root())
	if err != nil && isAlreadyAcknowledged(err) {
		return nil
	}

	return err
}

func isAlreadyAcknowledged(err error) bool {
	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "already acknowledged") || strings.Contains(msg, "bereits bestaetigt") ||
		strings.Contains(msg, "bereits bestätigt")
}

// errorCode returns the transfer:Nachricht/Fehlercode value of an error response body, or
// empty.
func errorCode(body []byte) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return ""
	}

	message := findLocal(doc.Root(), "Nachricht")
	if message == nil {
		return ""
	}

	if code := findLocal(message, "Fehlercode"); code != nil {
		return strings.TrimSpace(code.Text())
	}

	return ""
}

// parseFaultBody returns the typed error carried in a SOAP fault body, or an error
// stating that no fault was found.
func parseFaultBody(body []byte) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return fmt.Errorf("parse fault body: %w", err)
	}

	if err := faultToError(doc.Root()); err != nil {
		return err
	}

	return fmt.Errorf("response contains no SOAP fault")
}

// faultToError maps a SOAP fault (1.1 or 1.2) to a typed error, or nil if the document
// carries no fault.
func faultToError(root *etree.Element) error {
	fault := findLocal(root, "Fault")
	if fault == nil {
		return nil
	}

	code := childText(fault, "faultcode")
	reason := childText(fault, "faultstring")

	if code == "" {
		if codeElem := findLocal(fault, "Code"); codeElem != nil {
			code = childText(codeElem, "Value")
		}

		if reasonElem := findLocal(fault, "Reason"); reasonElem != nil {
			reason = childText(reasonElem, "Text")
		}
	}

	for _, authCode := range authFaultCodes {
		if strings.Contains(code, authCode) {
			return errors.NewAuthErrorf("SOAP fault [%s]: %s", code, reason)
		}
	}

	return fmt.Errorf("SOAP fault [%s]: %s", code, reason)
}

func findLocal(elem *etree.Element, tag string) *etree.Element {
	if elem == nil {
		return nil
	}

	if elem.Tag == tag {
		return elem
	}

	for _, child := range elem.ChildElements() {
		if found := findLocal(child, tag); found != nil {
			return found
		}
	}

	return nil
}

func findAllLocal(elem *etree.Element, tag string) []*etree.Element {
	if elem == nil {
		return nil
	}

	var result []*etree.Element

	if elem.Tag == tag {
		result = append(result, elem)
	}

	for _, child := range elem.ChildElements() {
		result = append(result, findAllLocal(child, tag)...)
	}

	return result
}

func childText(elem *etree.Element, tags ...string) string {
	for _, tag := range tags {
		for _, child := range elem.ChildElements() {
			if child.Tag == tag {
				return strings.TrimSpace(child.Text())
			}
		}
	}

	return ""
}
