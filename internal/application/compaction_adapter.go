package application

import (
	"context"
	"fmt"

	"github.com/turnengine/turnengine/internal/application/usecase"
	"github.com/turnengine/turnengine/internal/domain/service"
	"github.com/turnengine/turnengine/internal/infrastructure/grpc"
	"github.com/turnengine/turnengine/internal/infrastructure/persistence"

	"go.uber.org/zap"
)

// routerAIClient adapts the in-process LLM router (the same llm.Router that
// backs AgentLoop and ProcessMessageUseCase) to usecase.AIServiceClient, so
// the legacy Compactor's summarization call goes through the same provider
// pool instead of a separate transport.
type routerAIClient struct {
	llm service.LLMClient
}

func (c *routerAIClient) GenerateResponse(ctx context.Context, req *usecase.AIRequest) (*usecase.AIResponse, error) {
	resp, err := c.llm.Generate(ctx, &service.LLMRequest{
		Messages:    []service.LLMMessage{{Role: "user", Content: req.Prompt}},
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: float64(req.Temperature),
	})
	if err != nil {
		return nil, err
	}
	return &usecase.AIResponse{
		Content:    resp.Content,
		ModelUsed:  resp.ModelUsed,
		TokensUsed: resp.TokensUsed,
	}, nil
}

// failoverAIClient wraps an AIServiceClient with ModelFailover's cooldown +
// fallback-chain retry before the call reaches the provider.
type failoverAIClient struct {
	failover *grpc.ModelFailover
	inner    usecase.AIServiceClient
}

func (c *failoverAIClient) GenerateResponse(ctx context.Context, req *usecase.AIRequest) (*usecase.AIResponse, error) {
	return c.failover.ExecuteWithFailover(ctx, req, c.inner)
}

// vaultMemoryFlusher adapts VaultStore into Compactor's MemoryFlusher seam,
// so content evicted by compaction is preserved in the vault's immutable,
// versioned history instead of being discarded outright.
type vaultMemoryFlusher struct {
	vault *persistence.VaultStore
}

func (f *vaultMemoryFlusher) FlushToMemory(ctx context.Context, content string, metadata map[string]interface{}) error {
	ts, _ := metadata["timestamp"].(int64)
	key := fmt.Sprintf("compaction_flush:%d", ts)
	_, err := f.vault.Put(key, content, "compaction_flush")
	return err
}

// newCompactor builds the legacy conversation Compactor, routing its
// summarization calls through llmRouter (with ModelFailover wrapped around
// it when fallbackModels is non-empty) and, when a vault is available,
// pre-flushing evicted assistant content to it before summarizing.
func newCompactor(llm service.LLMClient, vault *persistence.VaultStore, fallbackModels []string, logger *zap.Logger) *usecase.Compactor {
	var client usecase.AIServiceClient = &routerAIClient{llm: llm}
	if len(fallbackModels) > 0 {
		client = &failoverAIClient{
			failover: grpc.NewModelFailover(fallbackModels, logger),
			inner:    client,
		}
	}

	compactor := usecase.NewCompactor(client, logger)
	if vault != nil {
		compactor.SetMemoryFlusher(&vaultMemoryFlusher{vault: vault})
	}
	return compactor
}
