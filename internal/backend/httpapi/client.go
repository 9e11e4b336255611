// Package httpapi implements the collaborator ports over the expense
// backend's REST API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"splitledger/internal/backend"
	"splitledger/internal/core"
)

// Config holds client construction parameters.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	HTTP    *http.Client
}

// Client talks to the expense backend. One instance is shared by all
// editor sessions; it holds no per-request state.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// Ensure interface conformance
var (
	_ backend.PurchaseStore     = (*Client)(nil)
	_ backend.CategoryDirectory = (*Client)(nil)
	_ backend.UserDirectory     = (*Client)(nil)
	_ backend.ProvenanceLog     = (*Client)(nil)
	_ backend.ItemExtractor     = (*Client)(nil)
)

// NewClient creates a backend client for the given base URL.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTP
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:  strings.TrimRight(cfg.BaseURL, "/"),
		token: cfg.Token,
		http:  httpClient,
	}
}

type purchaseResponse struct {
	PurchaseID        int64                 `json:"purchase_id"`
	PurchaseName      string                `json:"purchase_name"`
	PurchaseDate      core.Date             `json:"purchase_date"`
	PayerUserID       int64                 `json:"payer_user_id"`
	TaxIsAdded        bool                  `json:"tax_is_added"`
	DiscountIsApplied bool                  `json:"discount_is_applied"`
	Items             []backend.ItemPayload `json:"items"`
	Images            []backend.ImageRef    `json:"images"`
}

// GetPurchase implements backend.PurchaseStore
func (c *Client) GetPurchase(ctx context.Context, id int64) (*backend.PurchaseRecord, error) {
	var resp purchaseResponse
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/purchases/%d", id), nil, &resp); err != nil {
		return nil, fmt.Errorf("get purchase: %w", err)
	}

	rec := &backend.PurchaseRecord{
		Purchase: core.Purchase{
			ID:                resp.PurchaseID,
			Name:              resp.PurchaseName,
			Date:              resp.PurchaseDate,
			PayerID:           resp.PayerUserID,
			TaxIsAdded:        resp.TaxIsAdded,
			DiscountIsApplied: resp.DiscountIsApplied,
		},
		Images: resp.Images,
		Items:  resp.Items,
	}
	return rec, nil
}

// CreatePurchase implements backend.PurchaseStore. The create call is multipart:
// a "purchase_data" form field carrying the JSON payload plus one "files"
// part per staged image blob.
func (c *Client) CreatePurchase(ctx context.Context, payload backend.PurchasePayload, images []backend.ImageBlob) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal purchase payload: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("purchase_data", string(data)); err != nil {
		return 0, fmt.Errorf("write purchase_data field: %w", err)
	}
	for _, img := range images {
		part, err := imagePart(mw, img)
		if err != nil {
			return 0, fmt.Errorf("create image part: %w", err)
		}
		if _, err := part.Write(img.Data); err != nil {
			return 0, fmt.Errorf("write image part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return 0, fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/purchases/", &body)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	var resp purchaseResponse
	if err := c.send(req, &resp); err != nil {
		return 0, fmt.Errorf("create purchase: %w", err)
	}
	return resp.PurchaseID, nil
}

// UpdatePurchase implements backend.PurchaseStore as a JSON full replace.
func (c *Client) UpdatePurchase(ctx context.Context, id int64, payload backend.PurchasePayload) error {
	if err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/purchases/%d", id), payload, nil); err != nil {
		return fmt.Errorf("update purchase: %w", err)
	}
	return nil
}

// DeletePurchase implements backend.PurchaseStore
func (c *Client) DeletePurchase(ctx context.Context, id int64) error {
	if err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/purchases/%d", id), nil, nil); err != nil {
		return fmt.Errorf("delete purchase: %w", err)
	}
	return nil
}

// ListCategories implements backend.CategoryDirectory
func (c *Client) ListCategories(ctx context.Context, level int) ([]string, error) {
	var resp []struct {
		CategoryName string `json:"category_name"`
	}
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/categories/%d", level), nil, &resp); err != nil {
		return nil, fmt.Errorf("list categories level %d: %w", level, err)
	}
	names := make([]string, 0, len(resp))
	for _, cat := range resp {
		names = append(names, cat.CategoryName)
	}
	return names, nil
}

// CreateCategory implements backend.CategoryDirectory
func (c *Client) CreateCategory(ctx context.Context, name string, level int) error {
	body := map[string]any{"category_name": name, "level": level}
	if err := c.doJSON(ctx, http.MethodPost, "/categories/", body, nil); err != nil {
		return fmt.Errorf("create category %q level %d: %w", name, level, err)
	}
	return nil
}

// ListUsers implements backend.UserDirectory
func (c *Client) ListUsers(ctx context.Context) ([]core.User, error) {
	var users []core.User
	if err := c.doJSON(ctx, http.MethodGet, "/purchases/users/all", nil, &users); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// AppendLog implements backend.ProvenanceLog
func (c *Client) AppendLog(ctx context.Context, purchaseID int64, userID int64, message string) error {
	body := map[string]any{"message": message}
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/purchases/%d/logs", purchaseID), body, nil); err != nil {
		return fmt.Errorf("append purchase log: %w", err)
	}
	return nil
}

// ListLogs implements backend.ProvenanceLog
func (c *Client) ListLogs(ctx context.Context, purchaseID int64) ([]core.LogEntry, error) {
	var entries []core.LogEntry
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/purchases/%d/logs", purchaseID), nil, &entries); err != nil {
		return nil, fmt.Errorf("list purchase logs: %w", err)
	}
	return entries, nil
}

// Extract implements backend.ItemExtractor. The raw response body is
// returned untouched; internal/ocr owns validation.
func (c *Client) Extract(ctx context.Context, images []backend.ImageBlob) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, img := range images {
		part, err := imagePart(mw, img)
		if err != nil {
			return nil, fmt.Errorf("create image part: %w", err)
		}
		if _, err := part.Write(img.Data); err != nil {
			return nil, fmt.Errorf("write image part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/ocr/upload", &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extract items: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read extraction response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("extract items: status %d: %s", resp.StatusCode, truncateBody(raw))
	}
	return raw, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// doJSON sends a JSON request and decodes a JSON response when out is
// non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncateBody(raw))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func imagePart(mw *multipart.Writer, img backend.ImageBlob) (io.Writer, error) {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, escapeQuotes(img.Filename)))
	contentType := img.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	return mw.CreatePart(h)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func truncateBody(raw []byte) string {
	const max = 256
	s := strings.TrimSpace(string(raw))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
