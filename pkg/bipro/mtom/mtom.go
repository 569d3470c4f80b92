/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mtom splits MTOM/XOP multipart responses into the XOP-resolved SOAP envelope
// and the binary documents referenced from it.
package mtom

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"

	"github.com/beevik/etree"

	"github.com/maklerhaus/atlas/internal/pkg/log"
	"github.com/maklerhaus/atlas/pkg/bipro/api"
)

var logger = log.New("mtom")

// Envelope is the result of splitting an MTOM response: the XOP-resolved SOAP XML, the
// documents carried in the message, and the raw root-part bytes as received.
type Envelope struct {
	XML       []byte
	Documents []api.Document
	Raw       []byte
}

type part struct {
	cid  string
	data []byte
}

// Split parses a response body according to its Content-Type header. Multipart bodies are
// split into root envelope plus binary parts; single-part XML bodies pass straight through.
// A document whose referenced part is absent from the multipart body is flagged Missing
// rather than failing the whole split.
func Split(contentType string, body io.Reader) (*Envelope, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("parse content type [%s]: %w", contentType, err)
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}

		return resolve(raw, nil)
	}

	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("multipart content type [%s] has no boundary", contentType)
	}

	root, parts, err := readParts(multipart.NewReader(body, boundary), normalizeCID(params["start"]))
	if err != nil {
		return nil, err
	}

	return resolve(root, parts)
}

func readParts(reader *multipart.Reader, start string) ([]byte, map[string][]byte, error) {
	var all []part

	for {
		p, err := reader.NextPart()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, nil, fmt.Errorf("read multipart body: %w", err)
		}

		data, err := io.ReadAll(p)
		if err != nil {
			return nil, nil, fmt.Errorf("read multipart part: %w", err)
		}

		all = append(all, part{cid: normalizeCID(p.Header.Get("Content-ID")), data: data})
	}

	if len(all) == 0 {
		return nil, nil, fmt.Errorf("multipart body contains no parts")
	}

	// The root part is the one named by the start parameter, else the first part.
	rootIndex := 0

	if start != "" {
		for i, p := range all {
			if p.cid == start {
				rootIndex = i

				break
			}
		}
	}

	parts := make(map[string][]byte)

	for i, p := range all {
		if i != rootIndex && p.cid != "" {
			parts[p.cid] = p.data
		}
	}

	return all[rootIndex].data, parts, nil
}

func resolve(root []byte, parts map[string][]byte) (*Envelope, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(root); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}

	envelope := &Envelope{Raw: root}

	documentElements := findDocumentElements(doc.Root())

	for _, elem := range documentElements {
		envelope.Documents = append(envelope.Documents, extractDocument(elem, parts))
	}

	// Any xop:Include left outside the document elements is replaced in place by the
	// base64 encoding of the referenced part.
	for _, include := range findAllLocal(doc.Root(), "Include") {
		inlineInclude(include, parts)
	}

	xml, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serialize resolved envelope: %w", err)
	}

	envelope.XML = xml

	return envelope, nil
}

// Local names of the filename, media type and payload fields of a Dokument element, in
// the order they are tried. Carriers are not consistent here.
var (
	filenameTags = []string{"Dateiname", "Name", "Filename"} //nolint:gochecknoglobals
	mimeTypeTags = []string{"Mimetype", "MIMEType", "Typ"}   //nolint:gochecknoglobals
	contentTags  = []string{"Daten", "Inhalt", "Data"}       //nolint:gochecknoglobals
)

func extractDocument(elem *etree.Element, parts map[string][]byte) api.Document {
	document := api.Document{
		Filename: firstText(elem, filenameTags),
		MIMEType: firstText(elem, mimeTypeTags),
	}

	content := firstElement(elem, contentTags)
	if content == nil {
		document.Missing = true

		return document
	}

	if include := findLocal(content, "Include"); include != nil {
		cid := normalizeCID(include.SelectAttrValue("href", ""))

		data, ok := parts[cid]
		if !ok {
			logger.Warn("Referenced MTOM part is missing", log.WithContentID(cid))

			document.Missing = true

			return document
		}

		document.Content = data

		content.RemoveChild(include)
		content.SetText(base64.StdEncoding.EncodeToString(data))

		return document
	}

	// Inline payloads are base64Binary per the schema.
	text := strings.TrimSpace(content.Text())

	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		document.Content = []byte(text)

		return document
	}

	document.Content = data

	return document
}

func inlineInclude(include *etree.Element, parts map[string][]byte) {
	parent := include.Parent()
	if parent == nil {
		return
	}

	cid := normalizeCID(include.SelectAttrValue("href", ""))

	data, ok := parts[cid]
	if !ok {
		logger.Warn("Referenced MTOM part is missing", log.WithContentID(cid))

		return
	}

	parent.RemoveChild(include)
	parent.SetText(base64.StdEncoding.EncodeToString(data))
}

// normalizeCID reduces the various spellings of a content-id reference (cid: prefix,
// angle brackets, URL encoding) to the bare identifier.
func normalizeCID(ref string) string {
	ref = strings.TrimSpace(ref)

	if unescaped, err := url.QueryUnescape(ref); err == nil {
		ref = unescaped
	}

	ref = strings.TrimPrefix(ref, "<")
	ref = strings.TrimSuffix(ref, ">")
	ref = strings.TrimPrefix(ref, "cid:")

	return ref
}

// findDocumentElements returns the Dokument elements under Nachricht/Dokumente, matching
// by local name only since carriers bind the transfer namespace to varying prefixes.
func findDocumentElements(root *etree.Element) []*etree.Element {
	var result []*etree.Element

	for _, elem := range findAllLocal(root, "Dokument") {
		if parent := elem.Parent(); parent != nil && parent.Tag == "Dokumente" {
			result = append(result, elem)
		}
	}

	return result
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

func firstElement(elem *etree.Element, tags []string) *etree.Element {
	for _, tag := range tags {
		for _, child := range elem.ChildElements() {
			if child.Tag == tag {
				return child
			}
		}
	}

	return nil
}

func firstText(elem *etree.Element, tags []string) string {
	if found := firstElement(elem, tags); found != nil {
		return strings.TrimSpace(found.Text())
	}

	return ""
}
