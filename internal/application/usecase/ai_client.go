package usecase

import (
	"context"

	"github.com/turnengine/turnengine/internal/domain/entity"
)

// AIRequest is a provider-agnostic request to an AI service client —
// the seam Compactor and ModelFailover are built against, independent of
// how a concrete client reaches a model (in-process router, gRPC, HTTP).
type AIRequest struct {
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float32
	History     []*entity.Message
}

// AIResponse is the result of a successful AIRequest.
type AIResponse struct {
	Content    string
	ModelUsed  string
	TokensUsed int
}

// AIStreamChunk is one delta of a streamed AIResponse.
type AIStreamChunk struct {
	Content string
	IsFinal bool
}

// SkillRequest invokes a named skill with freeform input and config.
type SkillRequest struct {
	SkillID string
	Input   string
	Config  map[string]string
}

// SkillResponse is the result of a SkillRequest.
type SkillResponse struct {
	Output       string
	Success      bool
	ErrorMessage string
}

// AIServiceClient is the minimal seam Compactor and ModelFailover need —
// a single blocking call from a prompt to a generated response.
type AIServiceClient interface {
	GenerateResponse(ctx context.Context, req *AIRequest) (*AIResponse, error)
}
