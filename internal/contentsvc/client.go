package contentsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxErrorBody = 64 << 10

// ServiceError is returned for any non-2xx response. Message is the text the
// remote service put in its error body.
type ServiceError struct {
	Op      string
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from a remote service.
func IsNotFound(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr) && serviceErr.Status == http.StatusNotFound
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{Timeout: timeout})
}

func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

func (c *Client) GetPage(ctx context.Context, pageID string) (Page, error) {
	var envelope pageEnvelope
	if err := c.doJSON(ctx, "get page", http.MethodGet, "/services/pagemanagement/page/"+url.PathEscape(pageID), nil, &envelope); err != nil {
		return Page{}, err
	}
	return envelope.Page, nil
}

func (c *Client) SavePage(ctx context.Context, page Page) (Page, error) {
	var envelope pageEnvelope
	if err := c.doJSON(ctx, "save page", http.MethodPost, "/services/pagemanagement/page", pageEnvelope{Page: page}, &envelope); err != nil {
		return Page{}, err
	}
	return envelope.Page, nil
}

func (c *Client) GetTemplate(ctx context.Context, templateID string) (Template, error) {
	var envelope templateEnvelope
	if err := c.doJSON(ctx, "get template", http.MethodGet, "/services/pagemanagement/template/"+url.PathEscape(templateID), nil, &envelope); err != nil {
		return Template{}, err
	}
	return envelope.Template, nil
}

// RenderPage returns the HTML the Content service renders for page as given,
// including unsaved region branches.
func (c *Client) RenderPage(ctx context.Context, page Page) (string, error) {
	return c.doHTML(ctx, "render page", "/services/pagemanagement/render/page", pageEnvelope{Page: page})
}

func (c *Client) RenderRegion(ctx context.Context, page Page, regionID string) (string, error) {
	return c.doHTML(ctx, "render region", "/services/pagemanagement/render/region/"+url.PathEscape(regionID), pageEnvelope{Page: page})
}

// GetAssetDropCriteria returns the criteria for every widget on the page,
// keyed by widget id.
func (c *Client) GetAssetDropCriteria(ctx context.Context, pageID string) (map[string]AssetDropCriteria, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, "get asset drop criteria", http.MethodGet, "/services/assetmanagement/assetdropcriteria/"+url.PathEscape(pageID), nil, &raw); err != nil {
		return nil, err
	}
	criteria, err := decodeDropCriteria(raw)
	if err != nil {
		return nil, fmt.Errorf("get asset drop criteria: %w", err)
	}
	return criteria, nil
}

func (c *Client) SetAssetRelationship(ctx context.Context, rel AssetRelationship) (string, error) {
	var out struct {
		RelationshipID string `json:"relationshipId"`
	}
	if err := c.doJSON(ctx, "set asset relationship", http.MethodPost, "/services/assetmanagement/widgetasset", rel, &out); err != nil {
		return "", err
	}
	return out.RelationshipID, nil
}

func (c *Client) UpdateAssetRelationship(ctx context.Context, rel AssetRelationship) (string, error) {
	var out struct {
		RelationshipID string `json:"relationshipId"`
	}
	if err := c.doJSON(ctx, "update asset relationship", http.MethodPut, "/services/assetmanagement/widgetasset", rel, &out); err != nil {
		return "", err
	}
	return out.RelationshipID, nil
}

func (c *Client) ClearAssetRelationship(ctx context.Context, ownerID, widgetID, relationshipID string) error {
	path := fmt.Sprintf("/services/assetmanagement/widgetasset/%s/%s", url.PathEscape(ownerID), url.PathEscape(widgetID))
	if relationshipID != "" {
		path += "?relationshipId=" + url.QueryEscape(relationshipID)
	}
	return c.doJSON(ctx, "clear asset relationship", http.MethodDelete, path, nil, nil)
}

func (c *Client) CheckoutStatus(ctx context.Context, itemID string) (CheckoutStatus, error) {
	var status CheckoutStatus
	if err := c.doJSON(ctx, "checkout status", http.MethodGet, "/services/workflowmanagement/checkout/"+url.PathEscape(itemID), nil, &status); err != nil {
		return CheckoutStatus{}, err
	}
	if status.ItemID == "" {
		status.ItemID = itemID
	}
	return status, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	resp, err := c.send(ctx, op, method, path, in, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) doHTML(ctx context.Context, op, path string, in any) (string, error) {
	resp, err := c.send(ctx, op, http.MethodPost, path, in, "text/html")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%s: read response: %w", op, err)
	}
	return string(body), nil
}

func (c *Client) send(ctx context.Context, op, method, path string, in any, accept string) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", accept)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &ServiceError{Op: op, Status: resp.StatusCode, Message: extractMessage(raw, resp.Status)}
	}
	return resp, nil
}

// extractMessage pulls a human readable message out of an error body. The
// services answer with a few different envelopes.
func extractMessage(raw []byte, fallback string) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return fallback
	}
	var envelope map[string]any
	if err := json.Unmarshal(trimmed, &envelope); err == nil {
		for _, key := range []string{"message", "error", "Error", "defaultMessage"} {
			switch value := envelope[key].(type) {
			case string:
				if value != "" {
					return value
				}
			case map[string]any:
				if nested, ok := value["message"].(string); ok && nested != "" {
					return nested
				}
				if nested, ok := value["defaultMessage"].(string); ok && nested != "" {
					return nested
				}
			}
		}
		return fallback
	}
	return string(trimmed)
}

func decodeDropCriteria(raw json.RawMessage) (map[string]AssetDropCriteria, error) {
	trimmed := bytes.TrimSpace(raw)
	out := make(map[string]AssetDropCriteria)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return out, nil
	}
	if trimmed[0] == '[' {
		var list []AssetDropCriteria
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode criteria list: %w", err)
		}
		for _, item := range list {
			out[item.WidgetID] = item
		}
		return out, nil
	}
	var byWidget map[string]AssetDropCriteria
	if err := json.Unmarshal(trimmed, &byWidget); err != nil {
		return nil, fmt.Errorf("decode criteria map: %w", err)
	}
	for widgetID, item := range byWidget {
		if item.WidgetID == "" {
			item.WidgetID = widgetID
		}
		out[item.WidgetID] = item
	}
	return out, nil
}
