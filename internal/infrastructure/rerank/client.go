package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/resilience"
)

// Client is a RelevanceJudge backed by an external POST /rerank service.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	Model              string
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      options.Model,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

type rerankRequest struct {
	Query    string           `json:"query"`
	Passages []domain.Passage `json:"passages"`
	Model    string           `json:"model,omitempty"`
}

type rerankResponse struct {
	Results []domain.Judgment `json:"results"`
}

func (c *Client) Rerank(ctx context.Context, query string, passages []domain.Passage) ([]domain.Judgment, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(rerankRequest{Query: query, Passages: passages, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	var out rerankResponse
	call := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create rerank request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("rerank request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return resilience.NewStatusError("rerank", "judge", resp)
		}
		out = rerankResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode rerank response: %w", err)
		}
		return nil
	}

	err = resilience.Run(ctx, c.executor, "rerank.judge", call, resilience.ClassifyHTTPError)
	if err != nil {
		return nil, resilience.WrapTemporary("rerank", err, resilience.ClassifyHTTPError)
	}
	if len(out.Results) == 0 {
		return nil, errors.New("rerank response has no results")
	}
	return out.Results, nil
}
