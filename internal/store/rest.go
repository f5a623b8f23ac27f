package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// RestStore talks to a PostgREST-compatible row store.
type RestStore struct {
	baseURL string
	schema  string
	client  *resty.Client
}

// Ensure RestStore implements StoreInterface
var _ StoreInterface = (*RestStore)(nil)

// NewRestStore creates a new row store client
func NewRestStore(baseURL, apiKey, schema string) (*RestStore, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("store base URL is required")
	}

	client := resty.New().
		SetTimeout(30 * time.Second).
		SetHeader("User-Agent", "Mentions-Sync/1.0").
		SetHeader("Accept", "application/json")

	if apiKey != "" {
		client.SetHeader("apikey", apiKey)
		client.SetHeader("Authorization", "Bearer "+apiKey)
	}

	return &RestStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		schema:  schema,
		client:  client,
	}, nil
}

// Select executes a filtered, ordered, optionally range-limited read.
func (s *RestStore) Select(ctx context.Context, q Query) ([]json.RawMessage, error) {
	sel := q.Select
	if sel == "" {
		sel = "*"
	}

	req := s.client.R().
		SetContext(ctx).
		SetHeader("Accept-Profile", s.schema).
		SetQueryParam("select", sel)

	for _, f := range q.Filters {
		req.SetQueryParam(f.Column, "eq."+f.Value)
	}

	if q.OrderBy != "" {
		direction := "asc"
		if q.Descending {
			direction = "desc"
		}
		req.SetQueryParam("order", q.OrderBy+"."+direction)
	}

	if !q.Unpaginated {
		req.SetHeader("Range-Unit", "items")
		req.SetHeader("Range", fmt.Sprintf("%d-%d", q.Offset, q.Offset+q.Limit-1))
	}

	resp, err := req.Get(s.baseURL + "/" + q.Table)
	if err != nil {
		return nil, fmt.Errorf("select from %s failed: %w", q.Table, err)
	}

	if resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("store returned status %d for %s: %s", resp.StatusCode(), q.Table, string(resp.Body()))
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, fmt.Errorf("failed to parse rows from %s: %w", q.Table, err)
	}

	return rows, nil
}

// Count runs the same filter predicate without a row range and reads the
// exact total from the Content-Range header.
func (s *RestStore) Count(ctx context.Context, q Query) (int, error) {
	req := s.client.R().
		SetContext(ctx).
		SetHeader("Accept-Profile", s.schema).
		SetHeader("Prefer", "count=exact").
		SetHeader("Range-Unit", "items").
		SetHeader("Range", "0-0").
		SetQueryParam("select", "id")

	for _, f := range q.Filters {
		req.SetQueryParam(f.Column, "eq."+f.Value)
	}

	resp, err := req.Get(s.baseURL + "/" + q.Table)
	if err != nil {
		return 0, fmt.Errorf("count on %s failed: %w", q.Table, err)
	}

	if resp.StatusCode() >= 300 && resp.StatusCode() != 416 {
		return 0, fmt.Errorf("store returned status %d counting %s: %s", resp.StatusCode(), q.Table, string(resp.Body()))
	}

	total, err := parseContentRangeTotal(resp.Header().Get("Content-Range"))
	if err != nil {
		return 0, fmt.Errorf("count on %s: %w", q.Table, err)
	}

	return total, nil
}

// Update patches fields on the row identified by idColumn=id and returns
// the updated representation.
func (s *RestStore) Update(ctx context.Context, table, idColumn, id string, fields map[string]interface{}) (json.RawMessage, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Profile", s.schema).
		SetHeader("Prefer", "return=representation").
		SetQueryParam(idColumn, "eq."+id).
		SetBody(fields).
		Patch(s.baseURL + "/" + table)

	if err != nil {
		return nil, fmt.Errorf("update on %s failed: %w", table, err)
	}

	if resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("store returned status %d updating %s: %s", resp.StatusCode(), table, string(resp.Body()))
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, fmt.Errorf("failed to parse update response from %s: %w", table, err)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("update on %s matched no row with %s=%s", table, idColumn, id)
	}

	logrus.Debugf("Updated %s row %s", table, id)
	return rows[0], nil
}

// Invoke calls a stored procedure. Used only as the fallback write path.
func (s *RestStore) Invoke(ctx context.Context, procedure string, args map[string]interface{}) (json.RawMessage, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Profile", s.schema).
		SetBody(args).
		Post(s.baseURL + "/rpc/" + procedure)

	if err != nil {
		return nil, fmt.Errorf("procedure %s failed: %w", procedure, err)
	}

	if resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("store returned status %d from procedure %s: %s", resp.StatusCode(), procedure, string(resp.Body()))
	}

	return json.RawMessage(resp.Body()), nil
}

// parseContentRangeTotal extracts the total from a "0-0/42" style header.
func parseContentRangeTotal(header string) (int, error) {
	if header == "" {
		return 0, fmt.Errorf("missing Content-Range header")
	}

	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed Content-Range header %q", header)
	}

	if parts[1] == "*" {
		return 0, fmt.Errorf("store did not return an exact count in %q", header)
	}

	total, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed Content-Range total in %q", header)
	}

	return total, nil
}
