package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/beaconkb/beacon-backend/internal/cost"
	"github.com/beaconkb/beacon-backend/internal/platform/apperr"
	"github.com/beaconkb/beacon-backend/internal/platform/ctxutil"
	"github.com/beaconkb/beacon-backend/internal/platform/logger"
	"github.com/beaconkb/beacon-backend/internal/types"
)

const providerName = "openai"

type Config struct {
	APIKey          string `envconfig:"OPENAI_API_KEY" required:"true"`
	ExtractionModel string `envconfig:"OPENAI_EXTRACTION_MODEL" default:"gpt-4o-mini"`
	EmbeddingModel  string `envconfig:"OPENAI_EMBEDDING_MODEL" default:"text-embedding-3-small"`

	// USD per 1M tokens. Defaults track the models above; override when the
	// model env vars change.
	ExtractionInputUSDPer1M  float64 `envconfig:"OPENAI_EXTRACTION_INPUT_USD_PER_1M" default:"0.15"`
	ExtractionOutputUSDPer1M float64 `envconfig:"OPENAI_EXTRACTION_OUTPUT_USD_PER_1M" default:"0.60"`
	EmbeddingUSDPer1M        float64 `envconfig:"OPENAI_EMBEDDING_USD_PER_1M" default:"0.02"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Client extracts entities/relationships and embeds signal content via the
// OpenAI API. Every call is billed through the cost governor with the
// correlation carried on the context.
type Client struct {
	api *goopenai.Client
	cfg Config
	gov *cost.Governor
	log *logger.Logger
}

func NewClient(cfg Config, gov *cost.Governor, baseLog *logger.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	return &Client{
		api: goopenai.NewClient(cfg.APIKey),
		cfg: cfg,
		gov: gov,
		log: baseLog.With("service", "OpenAIClient"),
	}, nil
}

const extractionSystemPrompt = `You extract structured product knowledge from customer signals (support tickets, call notes, survey responses, reviews).

Return a JSON object with exactly this shape:
{
  "entities": {
    "customers": [], "features": [], "issues": [], "themes": [], "stakeholders": []
  },
  "relationships": [
    {"from": "<entity mention>", "to": "<entity mention>", "type": "<UPPER_SNAKE_CASE verb>"}
  ]
}

Rules:
- Every relationship endpoint must also appear in one of the entity buckets.
- Use short noun phrases for mentions, no pronouns.
- Omit relationships you are not confident about. Empty arrays are fine.`

// Extract runs single-signal extraction.
func (c *Client) Extract(ctx context.Context, content string) (*types.ExtractionResult, error) {
	if strings.TrimSpace(content) == "" {
		return &types.ExtractionResult{Model: c.cfg.ExtractionModel}, nil
	}
	if err := c.checkBudget(ctx); err != nil {
		return nil, err
	}
	started := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: c.cfg.ExtractionModel,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: content},
		},
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("openai extraction call: %w", err)
	}
	c.billChat(ctx, "extraction", resp.Usage, time.Since(started))

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai extraction: empty response")
	}
	var out types.ExtractionResult
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return nil, fmt.Errorf("unparseable extraction response: %w", err)
	}
	out.Model = c.cfg.ExtractionModel
	return &out, nil
}

type batchEnvelope struct {
	Results []types.ExtractionResult `json:"results"`
}

// ExtractBatch extracts several signals in one chat call. The response must
// carry one result per input, in order; the caller falls back to per-signal
// extraction when it does not.
func (c *Client) ExtractBatch(ctx context.Context, contents []string) ([]*types.ExtractionResult, error) {
	if len(contents) == 0 {
		return nil, nil
	}
	if len(contents) == 1 {
		one, err := c.Extract(ctx, contents[0])
		if err != nil {
			return nil, err
		}
		return []*types.ExtractionResult{one}, nil
	}

	if err := c.checkBudget(ctx); err != nil {
		return nil, err
	}

	var b strings.Builder
	for i, content := range contents {
		fmt.Fprintf(&b, "--- SIGNAL %d ---\n%s\n", i+1, content)
	}
	system := extractionSystemPrompt + fmt.Sprintf(`

You will receive %d signals separated by "--- SIGNAL N ---" markers. Return {"results": [...]} with exactly %d objects of the shape above, in input order.`, len(contents), len(contents))

	started := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: c.cfg.ExtractionModel,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: system},
			{Role: goopenai.ChatMessageRoleUser, Content: b.String()},
		},
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("openai batch extraction call: %w", err)
	}
	c.billChat(ctx, "extraction_batch", resp.Usage, time.Since(started))

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai batch extraction: empty response")
	}
	var envelope batchEnvelope
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &envelope); err != nil {
		return nil, fmt.Errorf("unparseable batch extraction response: %w", err)
	}
	if len(envelope.Results) != len(contents) {
		return nil, fmt.Errorf("batch extraction returned %d results for %d inputs",
			len(envelope.Results), len(contents))
	}
	out := make([]*types.ExtractionResult, len(envelope.Results))
	for i := range envelope.Results {
		envelope.Results[i].Model = c.cfg.ExtractionModel
		out[i] = &envelope.Results[i]
	}
	return out, nil
}

// Embed produces one embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, string, error) {
	if err := c.checkBudget(ctx); err != nil {
		return nil, "", err
	}
	started := time.Now()
	resp, err := c.api.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: []string{text},
		Model: goopenai.EmbeddingModel(c.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, "", fmt.Errorf("openai embedding call: %w", err)
	}
	c.bill(ctx, "embedding", resp.Usage.PromptTokens, 0,
		float64(resp.Usage.PromptTokens)/1e6*c.cfg.EmbeddingUSDPer1M,
		time.Since(started))

	if len(resp.Data) == 0 {
		return nil, "", fmt.Errorf("openai embedding: empty response")
	}
	return resp.Data[0].Embedding, c.cfg.EmbeddingModel, nil
}

// checkBudget gates billed calls on the governor's verdict for the agent
// attributed on the context. Unattributed calls are not gated; degraded
// checks follow the governor's fail-open/fail-closed policy.
func (c *Client) checkBudget(ctx context.Context) error {
	if c.gov == nil {
		return nil
	}
	billing, _ := ctxutil.GetBilling(ctx)
	if billing.AgentID == nil {
		return nil
	}
	status := c.gov.CheckAgentBudget(ctx, *billing.AgentID)
	if !status.Allowed {
		return fmt.Errorf("agent %s denied (%s): %w", billing.AgentID, status.Reason, apperr.ErrOverBudget)
	}
	return nil
}

func (c *Client) billChat(ctx context.Context, operation string, usage goopenai.Usage, elapsed time.Duration) {
	costUSD := float64(usage.PromptTokens)/1e6*c.cfg.ExtractionInputUSDPer1M +
		float64(usage.CompletionTokens)/1e6*c.cfg.ExtractionOutputUSDPer1M
	c.bill(ctx, operation, usage.PromptTokens, usage.CompletionTokens, costUSD, elapsed)
}

func (c *Client) bill(ctx context.Context, operation string, tokensIn, tokensOut int, costUSD float64, elapsed time.Duration) {
	if c.gov == nil {
		return
	}
	billing, _ := ctxutil.GetBilling(ctx)
	record := &types.CostLog{
		CorrelationID:  billing.CorrelationID,
		SignalID:       billing.SignalID,
		AgentID:        billing.AgentID,
		Operation:      operation,
		Provider:       providerName,
		Model:          c.cfg.ExtractionModel,
		TokensInput:    tokensIn,
		TokensOutput:   tokensOut,
		CostUSD:        costUSD,
		ResponseTimeMs: int(elapsed.Milliseconds()),
	}
	if operation == "embedding" {
		record.Model = c.cfg.EmbeddingModel
	}
	if record.CorrelationID == "" {
		record.CorrelationID = "untracked"
	}
	if err := c.gov.RecordCost(record); err != nil {
		c.log.Warn("cost record rejected", "operation", operation, "error", err)
	}
}
