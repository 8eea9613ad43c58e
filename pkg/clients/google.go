package clients

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/tmc/langchaingo/llms/googleai"
)

// ModelType is an enum for the available Google AI models.
type ModelType string

const (
	// FastModel is used for gap analysis and query refinement, which run
	// once per iteration and should stay cheap.
	FastModel ModelType = "gemini-3-flash-preview"
	// ReasoningModel is used for planning and report writing.
	ReasoningModel ModelType = "gemini-3-pro-preview"
)

// GoogleAI builds a langchaingo model client for the given model name.
// The API key comes from GOOGLE_API_KEY when apiKey is empty.
func GoogleAI(ctx context.Context, model ModelType, apiKey string) (*googleai.GoogleAI, error) {
	// Optional .env; explicit env vars win.
	_ = godotenv.Load()

	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY is not set")
	}

	switch model {
	case FastModel, ReasoningModel:
	default:
		return nil, fmt.Errorf("invalid model type: %s", model)
	}

	llm, err := googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(string(model)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google AI client: %w", err)
	}

	return llm, nil
}
