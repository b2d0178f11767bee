// internal/server/sampling.go
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"mcp-macro-log/internal/config"
	"mcp-macro-log/internal/models"
)

// Estimator asks an LLM behind the MCP gateway proxy for a food's macros
// per 100 units. The result is a proposal; nothing is stored.
type Estimator struct {
	httpClient *http.Client
	proxyURL   string
	apiKey     string
	model      string
}

func NewEstimator(cfg config.EstimatorConfig) *Estimator {
	return &Estimator{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		proxyURL:   strings.TrimRight(cfg.ProxyURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}
}

const estimatePrompt = `You are a nutrition database assistant. Given a food description, return its nutritional values per 100 g (or per 100 ml for liquids).

IMPORTANT: Always respond with valid JSON in this exact format:
{
  "name": "short food name",
  "unit": "g|ml",
  "macros_per_100": {"kcal": [number], "protein": [number], "carbs": [number], "fat": [number]},
  "confidence": "high|medium|low",
  "notes": "assumptions about brand, preparation or variety"
}

Use typical label values for packaged products. Never return negative numbers.`

func (e *Estimator) EstimateFood(ctx context.Context, req *models.EstimateRequest) (*models.EstimateResponse, error) {
	completionRequest := map[string]interface{}{
		"model":         e.model,
		"system_prompt": estimatePrompt,
		"messages": []map[string]interface{}{
			{
				"role":    "user",
				"content": fmt.Sprintf("Estimate macros per 100 units for: %q", req.Description),
			},
		},
		"max_tokens":  800,
		"temperature": 0.1,
	}

	out, err := e.callGateway(ctx, "create_completion", completionRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to get AI completion: %w", err)
	}
	return e.parseAIResponse(req.Description, out), nil
}

func (e *Estimator) callGateway(ctx context.Context, toolName string, args interface{}) (string, error) {
	url := fmt.Sprintf("%s/openrouter-gateway", e.proxyURL)

	requestData := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      toolName,
			"arguments": args,
		},
	}

	jsonData, err := json.Marshal(requestData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var rpc struct {
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if rpc.Error != nil {
		return "", fmt.Errorf("gateway error: %s", rpc.Error.Message)
	}
	if len(rpc.Result.Content) == 0 {
		return "", fmt.Errorf("unexpected response format")
	}
	return rpc.Result.Content[0].Text, nil
}

// parseAIResponse extracts the JSON object from the completion. Anything
// unusable becomes a low-confidence zero proposal so the caller can still
// fill in values by hand.
func (e *Estimator) parseAIResponse(description, aiOutput string) *models.EstimateResponse {
	content := aiOutput
	var completion struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(aiOutput), &completion); err == nil && completion.Content != "" {
		content = completion.Content
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return fallbackEstimate(description)
	}

	var est models.EstimateResponse
	if err := json.Unmarshal([]byte(content[start:end+1]), &est); err != nil {
		return fallbackEstimate(description)
	}
	if err := est.MacrosPer100.Validate(); err != nil {
		return fallbackEstimate(description)
	}
	unit, err := models.NormalizeUnit(est.Unit)
	if err != nil {
		unit = models.UnitGram
	}
	est.Unit = unit
	if strings.TrimSpace(est.Name) == "" {
		est.Name = strings.TrimSpace(description)
	}
	switch est.Confidence {
	case models.HighConfidence, models.MediumConfidence, models.LowConfidence:
	default:
		est.Confidence = models.LowConfidence
	}
	return &est
}

func fallbackEstimate(description string) *models.EstimateResponse {
	return &models.EstimateResponse{
		Name:       strings.TrimSpace(description),
		Unit:       models.UnitGram,
		Confidence: models.LowConfidence,
		Notes:      "Estimate unavailable; enter values from the label.",
	}
}
