package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mohamad-damaj/shoptimizer/internal/domain"
	"github.com/mohamad-damaj/shoptimizer/internal/gemini"
	"github.com/mohamad-damaj/shoptimizer/internal/prompt"
)

// SceneHandler generates a themed showcase scene for a whole shop.
type SceneHandler struct {
	gen gemini.Generator
}

// NewSceneHandler creates the handler with its model client.
func NewSceneHandler(gen gemini.Generator) *SceneHandler {
	return &SceneHandler{gen: gen}
}

func (h *SceneHandler) Kind() domain.Kind { return domain.KindScene }

func (h *SceneHandler) Handle(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
	ctx, span := otel.Tracer("worker").Start(ctx, "handler.scene")
	defer span.End()

	var req domain.SceneRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid payload")
		return nil, fmt.Errorf("invalid scene payload: %w", err)
	}

	span.SetAttributes(attribute.String("shop.name", req.Name))

	resp, err := h.gen.Generate(ctx, gemini.Request{
		SystemInstruction: prompt.SceneSystem,
		Prompt:            prompt.ScenePrompt(req),
		MaxTokens:         req.EffectiveMaxTokens(),
		Temperature:       req.EffectiveTemperature(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		return nil, err
	}

	count := req.ProductCount
	if count < 1 {
		count = 1
	}

	usage := resp.Usage
	return &domain.JobResult{
		JobID:            job.ID,
		Status:           domain.StatusCompleted,
		SceneCode:        resp.Text,
		ShopName:         req.Name,
		ProductPositions: count,
		Theme:            req.Theme,
		Model:            h.gen.Model(),
		Usage:            &usage,
	}, nil
}
