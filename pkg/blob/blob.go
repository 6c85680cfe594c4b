package blob

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/christophe-duc/previewd/pkg/config"
	"github.com/sirupsen/logrus"
)

// Client talks to the blob store's object API. The store exposes plain
// GET/POST/PUT per bucket and object key; the only quirk is that POSTing an
// existing key returns 400 "already exists", which we turn into a PUT because
// thumbnails are content-addressed and re-uploads are always byte-identical
// replacements.
type Client struct {
	Log      *logrus.Entry
	endpoint string
	token    string
	http     *http.Client
}

func NewClient(log *logrus.Entry, cfg config.BlobConfig) *Client {
	return &Client{
		Log:      log,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		token:    cfg.Token,
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) objectURL(bucket, key string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", c.endpoint, bucket, key)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("apikey", c.token)
	}
}

// Download streams an object. The caller owns the returned ReadCloser.
func (c *Client) Download(bucket, key string) (io.ReadCloser, error) {
	req, err := http.NewRequest(http.MethodGet, c.objectURL(bucket, key), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("blob download %s/%s: unexpected status %d", bucket, key, resp.StatusCode)
	}
	return resp.Body, nil
}

// Upload writes an object with the given content type. POST first; on a 400
// "already exists" response the same body is re-sent as PUT.
func (c *Client) Upload(bucket, key string, data []byte, contentType string) error {
	status, body, err := c.send(http.MethodPost, bucket, key, data, contentType)
	if err != nil {
		return err
	}

	if status == http.StatusBadRequest && strings.Contains(strings.ToLower(body), "already exists") {
		c.Log.WithFields(logrus.Fields{"bucket": bucket, "key": key}).Debug("object exists, retrying as PUT")
		status, body, err = c.send(http.MethodPut, bucket, key, data, contentType)
		if err != nil {
			return err
		}
	}

	if status < 200 || status >= 300 {
		return fmt.Errorf("blob upload %s/%s: status %d: %s", bucket, key, status, body)
	}
	return nil
}

func (c *Client) send(method, bucket, key string, data []byte, contentType string) (int, string, error) {
	req, err := http.NewRequest(method, c.objectURL(bucket, key), bytes.NewReader(data))
	if err != nil {
		return 0, "", err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(body), nil
}
