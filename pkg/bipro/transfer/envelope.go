/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transfer

import (
	"fmt"
	"strconv"
	"time"

	"github.com/beevik/etree"

	"github.com/maklerhaus/atlas/pkg/bipro/api"
)

const (
	nsSoapEnv  = "http://schemas.xmlsoap.org/soap/envelope/"
	nsWSSE     = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	nsWSU      = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	nsTransfer = "http://www.bipro.net/namespace/transfer"
)

// ListFilter selects the shipments returned by ListShipments. The zero value lists all
// pending shipments.
type ListFilter struct {
	// Confirmed selects already-confirmed shipments instead of pending ones.
	Confirmed bool

	// CategoryPrefix restricts the listing to categories starting with this prefix.
	CategoryPrefix string

	// From and To bound the shipment creation timestamp when non-zero.
	From time.Time
	To   time.Time
}

// buildEnvelope wraps the given body payload in a SOAP envelope whose security header
// carries the issued token assertion verbatim.
func buildEnvelope(token *api.Token, payload *etree.Element) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	envelope := doc.CreateElement("soapenv:Envelope")
	envelope.CreateAttr("xmlns:soapenv", nsSoapEnv)
	envelope.CreateAttr("xmlns:transfer", nsTransfer)

	header := envelope.CreateElement("soapenv:Header")

	security := header.CreateElement("wsse:Security")
	security.CreateAttr("xmlns:wsse", nsWSSE)
	security.CreateAttr("xmlns:wsu", nsWSU)
	security.CreateAttr("soapenv:mustUnderstand", "1")

	assertion := etree.NewDocument()
	if err := assertion.ReadFromBytes(token.Assertion); err != nil {
		return nil, fmt.Errorf("parse token assertion: %w", err)
	}

	security.AddChild(assertion.Root())

	body := envelope.CreateElement("soapenv:Body")
	body.AddChild(payload)

	return doc.WriteToBytes()
}

func buildListRequest(token *api.Token, filter ListFilter, offset int) ([]byte, error) {
	payload := etree.NewElement("transfer:listShipments")

	payload.CreateElement("transfer:Bestaetigt").SetText(strconv.FormatBool(filter.Confirmed))

	if filter.CategoryPrefix != "" {
		payload.CreateElement("transfer:Kategorie").SetText(filter.CategoryPrefix)
	}

	if !filter.From.IsZero() {
		payload.CreateElement("transfer:Von").SetText(filter.From.Format(time.RFC3339))
	}

	if !filter.To.IsZero() {
		payload.CreateElement("transfer:Bis").SetText(filter.To.Format(time.RFC3339))
	}

	if offset > 0 {
		payload.CreateElement("transfer:Ab").SetText(strconv.Itoa(offset))
	}

	return buildEnvelope(token, payload)
}

func buildGetRequest(token *api.Token, shipmentID string) ([]byte, error) {
	payload := etree.NewElement("transfer:getShipment")
	payload.CreateElement("transfer:Liefernummer").SetText(shipmentID)

	return buildEnvelope(token, payload)
}

func buildAcknowledgeRequest(token *api.Token, shipmentID string) ([]byte, error) {
	payload := etree.NewElement("transfer:acknowledgeShipment")
	payload.CreateElement("transfer:Liefernummer").SetText(shipmentID)

	return buildEnvelope(token, payload)
}
