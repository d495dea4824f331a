package openai

import (
	"sync"

	"github.com/OFFIS-RIT/forge/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIClient implements ai.CompletionClient against any OpenAI-compatible
// chat completion endpoint.
type OpenAIClient struct {
	completionModel string
	extractionModel string

	baseURL string
	apiKey  string

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *openai.Client
}

// NewOpenAIClientParams defines the configuration for creating a new
// OpenAIClient. CompletionModel is used for free-text generation,
// ExtractionModel for schema-constrained extraction.
type NewOpenAIClientParams struct {
	CompletionModel string
	ExtractionModel string

	BaseURL string
	ApiKey  string
}

// NewOpenAIClient creates and returns a new OpenAIClient configured with
// the provided parameters.
func NewOpenAIClient(params NewOpenAIClientParams) *OpenAIClient {
	options := []option.RequestOption{
		option.WithAPIKey(params.ApiKey),
	}
	if params.BaseURL != "" {
		options = append(options, option.WithBaseURL(params.BaseURL))
	}
	client := openai.NewClient(options...)

	extraction := params.ExtractionModel
	if extraction == "" {
		extraction = params.CompletionModel
	}

	return &OpenAIClient{
		completionModel: params.CompletionModel,
		extractionModel: extraction,

		baseURL: params.BaseURL,
		apiKey:  params.ApiKey,

		metricsLock: sync.Mutex{},
		metrics:     ai.ModelMetrics{},

		Client: &client,
	}
}

func (c *OpenAIClient) modifyMetrics(delta ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	c.metrics.InputTokens += delta.InputTokens
	c.metrics.OutputTokens += delta.OutputTokens
	c.metrics.TotalTokens += delta.TotalTokens
	c.metrics.DurationMs += delta.DurationMs
}

// ResetMetrics clears the accumulated model metrics.
func (c *OpenAIClient) ResetMetrics() {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics = ai.ModelMetrics{}
}

// GetMetrics returns the accumulated model metrics.
func (c *OpenAIClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}
