package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ModelUsage is one per-model aggregate row from the provider's usage report.
type ModelUsage struct {
	Model        string
	InputTokens  int64
	OutputTokens int64
	NumRequests  int64
}

// UsagePage is one page of the provider's usage report.
type UsagePage struct {
	Rows     []ModelUsage
	HasMore  bool
	NextPage string
}

// UsageFetcher retrieves per-model usage aggregates for a time interval from
// the upstream provider's administrative reporting endpoint. Results are
// paginated via an opaque cursor; pass an empty page for the first call.
type UsageFetcher interface {
	FetchUsagePage(ctx context.Context, startTime, endTime int64, page string) (*UsagePage, error)
}

// OpenAIUsageClient fetches usage from the OpenAI organization usage API.
// It requires an admin API key, a higher privilege than the key used for
// ordinary completion forwarding.
type OpenAIUsageClient struct {
	baseURL  string
	adminKey string
	client   *http.Client
}

// NewOpenAIUsageClient creates a usage report client. baseURL defaults to
// the public OpenAI API when empty.
func NewOpenAIUsageClient(baseURL, adminKey string) *OpenAIUsageClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &OpenAIUsageClient{
		baseURL:  baseURL,
		adminKey: adminKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *OpenAIUsageClient) FetchUsagePage(ctx context.Context, startTime, endTime int64, page string) (*UsagePage, error) {
	q := url.Values{}
	q.Set("start_time", strconv.FormatInt(startTime, 10))
	q.Set("end_time", strconv.FormatInt(endTime, 10))
	q.Set("group_by", "model")
	q.Set("bucket_width", "1d")
	if page != "" {
		q.Set("page", page)
	}

	endpoint := c.baseURL + "/v1/organization/usage/completions?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create usage request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.adminKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch usage page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("usage endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed usagePageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode usage page: %w", err)
	}

	out := &UsagePage{
		HasMore:  parsed.HasMore,
		NextPage: parsed.NextPage,
	}
	for _, bucket := range parsed.Data {
		for _, result := range bucket.Results {
			out.Rows = append(out.Rows, ModelUsage{
				Model:        result.Model,
				InputTokens:  result.InputTokens,
				OutputTokens: result.OutputTokens,
				NumRequests:  result.NumModelRequests,
			})
		}
	}
	return out, nil
}

// Wire format of /v1/organization/usage/completions.

type usagePageResponse struct {
	Object   string        `json:"object"`
	Data     []usageBucket `json:"data"`
	HasMore  bool          `json:"has_more"`
	NextPage string        `json:"next_page"`
}

type usageBucket struct {
	Object    string        `json:"object"`
	StartTime int64         `json:"start_time"`
	EndTime   int64         `json:"end_time"`
	Results   []usageResult `json:"results"`
}

type usageResult struct {
	Object           string `json:"object"`
	Model            string `json:"model"`
	InputTokens      int64  `json:"input_tokens"`
	OutputTokens     int64  `json:"output_tokens"`
	NumModelRequests int64  `json:"num_model_requests"`
}
