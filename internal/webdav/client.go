// Package webdav talks to the Nextcloud document store over WebDAV.
// Lock conflicts surface as the typed ErrLocked so callers can retry them
// without matching on message text.
package webdav

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/config"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
)

var (
	// ErrLocked means another editor holds the document; retryable.
	ErrLocked = errors.New("document is locked")
	// ErrNotFound means the path does not exist on the document store.
	ErrNotFound = errors.New("document not found")
)

// Client performs file operations against one WebDAV endpoint.
type Client struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	logger   logger.Logger
}

func NewClient(cfg config.WebDAVConfig, log logger.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   log,
	}
}

func (c *Client) url(filePath string) string {
	return c.baseURL + "/" + strings.TrimLeft(filePath, "/")
}

// Download fetches the file at filePath.
func (c *Client) Download(ctx context.Context, filePath string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(filePath), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", filePath, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read download body: %w", err)
	}
	if err := statusError(resp.StatusCode, body, filePath); err != nil {
		return nil, err
	}
	return body, nil
}

// Upload replaces the file at filePath with content.
func (c *Client) Upload(ctx context.Context, filePath string, content []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url(filePath), bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", filePath, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		body = nil
	}
	return statusError(resp.StatusCode, body, filePath)
}

// FileInfo is the metadata subset fetched by Stat.
type FileInfo struct {
	ETag     string
	Modified time.Time
	Size     int64
}

// Stat fetches file metadata via PROPFIND. Used by sync consumers to detect
// whether a file changed since the last run.
func (c *Client) Stat(ctx context.Context, filePath string) (*FileInfo, error) {
	const propfindBody = `<?xml version="1.0" encoding="utf-8" ?>
<d:propfind xmlns:d="DAV:">
  <d:prop>
    <d:getetag/>
    <d:getlastmodified/>
    <d:getcontentlength/>
  </d:prop>
</d:propfind>`

	req, err := http.NewRequestWithContext(ctx, "PROPFIND", c.url(filePath), strings.NewReader(propfindBody))
	if err != nil {
		return nil, fmt.Errorf("create propfind request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Depth", "0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("propfind %s: %w", filePath, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read propfind body: %w", err)
	}
	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		if statErr := statusError(resp.StatusCode, body, filePath); statErr != nil {
			return nil, statErr
		}
	}

	return parsePropfind(body)
}

// parsePropfind decodes the DAV: properties out of a multistatus body by
// element local name, tolerating any namespace prefix and element order.
func parsePropfind(body []byte) (*FileInfo, error) {
	info := &FileInfo{}
	dec := xml.NewDecoder(bytes.NewReader(body))

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return info, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse propfind response: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		var value string
		switch start.Name.Local {
		case "getetag", "getlastmodified", "getcontentlength":
			if err := dec.DecodeElement(&value, &start); err != nil {
				return nil, fmt.Errorf("parse propfind %s: %w", start.Name.Local, err)
			}
			value = strings.TrimSpace(value)
		default:
			continue
		}

		switch start.Name.Local {
		case "getetag":
			info.ETag = strings.Trim(value, `"`)
		case "getlastmodified":
			if t, err := time.Parse(time.RFC1123, value); err == nil {
				info.Modified = t
			}
		case "getcontentlength":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				info.Size = n
			}
		}
	}
}

// statusError maps a WebDAV response to a typed error. Nextcloud reports
// concurrent-editor conflicts either as 423 or as a body mentioning the lock.
func statusError(status int, body []byte, filePath string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusLocked:
		return fmt.Errorf("%w: %s", ErrLocked, filePath)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, filePath)
	default:
		msg := strings.ToLower(string(body))
		if strings.Contains(msg, "is locked") || strings.Contains(msg, "locked") {
			return fmt.Errorf("%w: %s", ErrLocked, filePath)
		}
		return fmt.Errorf("webdav %s: unexpected status %d", filePath, status)
	}
}
