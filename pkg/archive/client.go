/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bluele/gcache"

	"github.com/maklerhaus/atlas/internal/pkg/log"
	"github.com/maklerhaus/atlas/pkg/errors"
)

var logger = log.New("archive")

const (
	defaultCacheSize       = 100
	defaultCacheExpiration = 30 * time.Second
)

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the REST implementation of the archive port. List and Stats responses are
// cached briefly since the workbench polls them; Upload purges both caches.
type Client struct {
	endpoint        string
	httpClient      httpClient
	cacheExpiration time.Duration

	listCache  gcache.Cache
	statsCache gcache.Cache
}

// ClientOption sets an option on a Client.
type ClientOption func(*Client)

// WithCacheExpiration sets the list/stats cache lifetime.
func WithCacheExpiration(expiration time.Duration) ClientOption {
	return func(c *Client) {
		c.cacheExpiration = expiration
	}
}

// NewClient returns an archive client for the given endpoint.
func NewClient(endpoint string, client httpClient, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:        endpoint,
		httpClient:      client,
		cacheExpiration: defaultCacheExpiration,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.listCache = gcache.New(defaultCacheSize).ARC().
		LoaderExpireFunc(func(key interface{}) (interface{}, *time.Duration, error) {
			docs, err := c.fetchList(context.Background(), key.(string)) //nolint:forcetypeassert
			if err != nil {
				return nil, nil, err
			}

			return docs, &c.cacheExpiration, nil
		}).Build()

	c.statsCache = gcache.New(1).
		LoaderExpireFunc(func(interface{}) (interface{}, *time.Duration, error) {
			stats, err := c.fetchStats(context.Background())
			if err != nil {
				return nil, nil, err
			}

			return stats, &c.cacheExpiration, nil
		}).Build()

	return c
}

// Upload stores the given content. The archive deduplicates by content hash, so
// uploading the same bytes twice returns the same document.
func (c *Client) Upload(ctx context.Context, filename string, content []byte,
	sourceType SourceType, boxType BoxType) (*Document, error) {
	var body bytes.Buffer

	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}

	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}

	if err := writer.WriteField("sourceType", string(sourceType)); err != nil {
		return nil, fmt.Errorf("write form field: %w", err)
	}

	if boxType != "" {
		if err := writer.WriteField("boxType", string(boxType)); err != nil {
			return nil, fmt.Errorf("write form field: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close form writer: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, c.endpoint+"/documents",
		writer.FormDataContentType(), &body)
	if err != nil {
		return nil, fmt.Errorf("upload [%s]: %w", filename, err)
	}

	doc := &Document{}
	if err := json.Unmarshal(respBody, doc); err != nil {
		return nil, fmt.Errorf("unmarshal upload response: %w", err)
	}

	c.listCache.Purge()
	c.statsCache.Purge()

	logger.Debug("Uploaded document to archive", log.WithFilename(filename),
		log.WithSize(len(content)))

	return doc, nil
}

// Download returns the content of the document with the given ID.
func (c *Client) Download(ctx context.Context, docID string) ([]byte, error) {
	body, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/documents/%s/content", c.endpoint, url.PathEscape(docID)), "", nil)
	if err != nil {
		return nil, fmt.Errorf("download document [%s]: %w", docID, err)
	}

	return body, nil
}

// List returns the documents matching the filter, served from cache within the cache
// lifetime.
func (c *Client) List(_ context.Context, filter ListFilter) ([]Document, error) {
	docs, err := c.listCache.Get(listCacheKey(filter))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	return docs.([]Document), nil //nolint:forcetypeassert
}

// Stats returns the archive statistics, served from cache within the cache lifetime.
func (c *Client) Stats(_ context.Context) (*BoxStats, error) {
	stats, err := c.statsCache.Get("stats")
	if err != nil {
		return nil, fmt.Errorf("archive stats: %w", err)
	}

	return stats.(*BoxStats), nil //nolint:forcetypeassert
}

func (c *Client) fetchList(ctx context.Context, query string) ([]Document, error) {
	body, err := c.do(ctx, http.MethodGet, c.endpoint+"/documents?"+query, "", nil)
	if err != nil {
		return nil, err
	}

	var docs []Document
	if err := json.Unmarshal(body, &docs); err != nil {
		return nil, fmt.Errorf("unmarshal document list: %w", err)
	}

	return docs, nil
}

func (c *Client) fetchStats(ctx context.Context) (*BoxStats, error) {
	body, err := c.do(ctx, http.MethodGet, c.endpoint+"/stats", "", nil)
	if err != nil {
		return nil, err
	}

	stats := &BoxStats{}
	if err := json.Unmarshal(body, stats); err != nil {
		return nil, fmt.Errorf("unmarshal stats: %w", err)
	}

	return stats, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, contentType string,
	body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.ErrCancelled
		}

		return nil, errors.NewTransient(err)
	}

	defer func() {
		log.CloseResponseBodyError(logger, resp.Body.Close())
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewTransient(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return respBody, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.ErrNotFound
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, errors.NewTransientf("archive returned status %d", resp.StatusCode)
	default:
		return nil, fmt.Errorf("archive returned unexpected status %d", resp.StatusCode)
	}
}

func listCacheKey(filter ListFilter) string {
	values := url.Values{}

	if filter.BoxType != "" {
		values.Set("box", string(filter.BoxType))
	}

	if filter.Archived != nil {
		values.Set("archived", strconv.FormatBool(*filter.Archived))
	}

	return values.Encode()
}
