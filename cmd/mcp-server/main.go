package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/catalog"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
)

type PositionInput struct {
	Position string `json:"position"`
}

type NextForIdentityInput struct {
	Identity string `json:"identity"`
	Position string `json:"position"`
}

type EmptyInput struct{}

type ListPositionsOutput struct {
	Positions []PositionSummary `json:"positions"`
}

type PositionSummary struct {
	Position string `json:"position"`
	Ads      int    `json:"ads"`
}

// AdSummary is the tool-facing view of an advertisement.
type AdSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Position  string `json:"position"`
	Priority  int    `json:"priority"`
	MediaKind string `json:"media_kind"`
	TargetURL string `json:"target_url,omitempty"`
}

func summarize(ad models.Advertisement) AdSummary {
	return AdSummary{
		ID:        ad.ID,
		Title:     ad.Title,
		Position:  ad.Position,
		Priority:  ad.Priority,
		MediaKind: string(ad.MediaKind()),
		TargetURL: ad.TargetURL,
	}
}

type CatalogStatusOutput struct {
	Positions   map[string]int `json:"positions"`
	RefreshedAt string         `json:"refreshed_at,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	Refreshing  bool           `json:"refreshing"`
}

type PositionAdsOutput struct {
	Position string      `json:"position"`
	Ads      []AdSummary `json:"ads"`
}

type NextForIdentityOutput struct {
	Identity string     `json:"identity"`
	Position string     `json:"position"`
	Ad       *AdSummary `json:"ad,omitempty"`
	Message  string     `json:"message,omitempty"`
}

// Inspector answers tool calls by querying a running adrotator service.
type Inspector struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewInspector creates an inspector for the service at baseURL.
func NewInspector(baseURL string, logger *zap.Logger) *Inspector {
	return &Inspector{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger:  logger,
	}
}

// getJSON fetches path and decodes the body into v. It reports false for
// 204 responses.
func (s *Inspector) getJSON(ctx context.Context, path string, v interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("call %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	s.logger.Debug("service call", zap.String("path", path), zap.Int("status", resp.StatusCode))

	if resp.StatusCode == http.StatusNoContent {
		return false, nil
	}
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("call %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

// CatalogStatus implements the catalog_status tool.
func (s *Inspector) CatalogStatus(ctx context.Context, req *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, CatalogStatusOutput, error) {
	var status catalog.Status
	if _, err := s.getJSON(ctx, "/catalog", &status); err != nil {
		return nil, CatalogStatusOutput{}, err
	}
	out := CatalogStatusOutput{
		Positions:  status.Positions,
		LastError:  status.LastError,
		Refreshing: status.Refreshing,
	}
	if !status.RefreshedAt.IsZero() {
		out.RefreshedAt = status.RefreshedAt.Format(time.RFC3339)
	}
	return nil, out, nil
}

// ListPositions implements the list_positions tool.
func (s *Inspector) ListPositions(ctx context.Context, req *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, ListPositionsOutput, error) {
	var status catalog.Status
	if _, err := s.getJSON(ctx, "/catalog", &status); err != nil {
		return nil, ListPositionsOutput{}, err
	}
	out := ListPositionsOutput{Positions: make([]PositionSummary, 0, len(status.Positions))}
	for pos, n := range status.Positions {
		out.Positions = append(out.Positions, PositionSummary{Position: pos, Ads: n})
	}
	sort.Slice(out.Positions, func(i, j int) bool { return out.Positions[i].Position < out.Positions[j].Position })
	return nil, out, nil
}

// GetPositionAds implements the get_position_ads tool.
func (s *Inspector) GetPositionAds(ctx context.Context, req *mcp.CallToolRequest, input PositionInput) (*mcp.CallToolResult, PositionAdsOutput, error) {
	if input.Position == "" {
		return nil, PositionAdsOutput{}, fmt.Errorf("position is required")
	}
	var ads []models.Advertisement
	if _, err := s.getJSON(ctx, "/positions/"+url.PathEscape(input.Position)+"/ads", &ads); err != nil {
		return nil, PositionAdsOutput{}, err
	}
	out := PositionAdsOutput{Position: input.Position, Ads: make([]AdSummary, 0, len(ads))}
	for _, ad := range ads {
		out.Ads = append(out.Ads, summarize(ad))
	}
	return nil, out, nil
}

// NextForIdentity implements the next_for_identity tool.
func (s *Inspector) NextForIdentity(ctx context.Context, req *mcp.CallToolRequest, input NextForIdentityInput) (*mcp.CallToolResult, NextForIdentityOutput, error) {
	if input.Identity == "" || input.Position == "" {
		return nil, NextForIdentityOutput{}, fmt.Errorf("identity and position are required")
	}
	out := NextForIdentityOutput{Identity: input.Identity, Position: input.Position}
	var body struct {
		Ad *models.Advertisement `json:"ad"`
	}
	path := fmt.Sprintf("/sessions/%s/positions/%s/next", url.PathEscape(input.Identity), url.PathEscape(input.Position))
	found, err := s.getJSON(ctx, path, &body)
	if err != nil {
		return nil, NextForIdentityOutput{}, err
	}
	if !found {
		out.Message = "position has no candidates"
		return nil, out, nil
	}
	if body.Ad != nil {
		ad := summarize(*body.Ad)
		out.Ad = &ad
	}
	return nil, out, nil
}

func newServer(inspector *Inspector) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "adrotator",
		Version: "1.0.0",
	}, nil)

	emptySchema := map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	positionProp := map[string]interface{}{
		"type":        "string",
		"description": "Page position, e.g. home_top or sidebar",
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "catalog_status",
		Description: "Show catalog positions, sizes, last refresh time and last refresh error",
		InputSchema: emptySchema,
	}, inspector.CatalogStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_positions",
		Description: "List every position with eligible advertisements",
		InputSchema: emptySchema,
	}, inspector.ListPositions)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_position_ads",
		Description: "List the ordered candidate advertisements of a position",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"position": positionProp},
			"required":   []string{"position"},
		},
	}, inspector.GetPositionAds)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "next_for_identity",
		Description: "Show which advertisement a visitor would be offered next for a position",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"identity": map[string]interface{}{
					"type":        "string",
					"description": "Visitor identity; use anonymous for the shared shown-set",
				},
				"position": positionProp,
			},
			"required": []string{"identity", "position"},
		},
	}, inspector.NextForIdentity)

	return server
}

func main() {
	_ = godotenv.Load()

	// stdout carries the MCP protocol
	logger, err := observability.InitStderrLogger("adrotator-mcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	baseURL := os.Getenv("ADROTATOR_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8787"
	}
	logger.Info("Starting adrotator MCP server", zap.String("service_url", baseURL))

	server := newServer(NewInspector(baseURL, logger))

	stdioTransport := &mcp.StdioTransport{}
	var logBuffer bytes.Buffer
	loggingTransport := &mcp.LoggingTransport{
		Transport: stdioTransport,
		Writer:    &logBuffer,
	}

	if err := server.Run(context.Background(), loggingTransport); err != nil {
		logger.Fatal("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
	}
}
