package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Walrus stores blobs through a Walrus publisher and hands out aggregator URIs.
type Walrus struct {
	PublisherURL  string
	AggregatorURL string
	Epochs        int
	SendObjectTo  string
	Client        *http.Client
}

func NewWalrus(publisherURL, aggregatorURL string, epochs int) *Walrus {
	return &Walrus{
		PublisherURL:  strings.TrimRight(publisherURL, "/"),
		AggregatorURL: strings.TrimRight(aggregatorURL, "/"),
		Epochs:        epochs,
		Client:        &http.Client{Timeout: 30 * time.Second},
	}
}

// storeResponse covers both publisher outcomes: a fresh upload or a blob that was already certified.
type storeResponse struct {
	NewlyCreated *struct {
		BlobObject struct {
			BlobID string `json:"blobId"`
		} `json:"blobObject"`
	} `json:"newlyCreated"`
	AlreadyCertified *struct {
		BlobID string `json:"blobId"`
	} `json:"alreadyCertified"`
}

func (w *Walrus) Upload(ctx context.Context, data []byte) (string, error) {
	if w.PublisherURL == "" || w.AggregatorURL == "" {
		return "", fmt.Errorf("walrus publisher and aggregator must be configured")
	}
	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}

	u, err := url.Parse(w.PublisherURL)
	if err != nil {
		return "", fmt.Errorf("parse walrus publisher: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/blobs"
	epochs := w.Epochs
	if epochs <= 0 {
		epochs = 1
	}
	q := u.Query()
	q.Set("epochs", fmt.Sprintf("%d", epochs))
	if w.SendObjectTo != "" {
		q.Set("send_object_to", w.SendObjectTo)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build walrus request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("walrus put: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("walrus put status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed storeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode walrus response: %w", err)
	}

	var blobID string
	switch {
	case parsed.NewlyCreated != nil:
		blobID = parsed.NewlyCreated.BlobObject.BlobID
	case parsed.AlreadyCertified != nil:
		blobID = parsed.AlreadyCertified.BlobID
	}
	if blobID == "" {
		return "", fmt.Errorf("walrus response carried no blob id")
	}
	return w.AggregatorURL + "/v1/blobs/" + url.PathEscape(blobID), nil
}
