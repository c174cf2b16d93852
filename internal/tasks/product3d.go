package tasks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mohamad-damaj/shoptimizer/internal/domain"
	"github.com/mohamad-damaj/shoptimizer/internal/gemini"
	"github.com/mohamad-damaj/shoptimizer/internal/prompt"
)

// Product3DHandler turns one product image into a Three.js object.
type Product3DHandler struct {
	gen gemini.Generator
}

// NewProduct3DHandler creates the handler with its model client.
func NewProduct3DHandler(gen gemini.Generator) *Product3DHandler {
	return &Product3DHandler{gen: gen}
}

func (h *Product3DHandler) Kind() domain.Kind { return domain.KindProduct3D }

func (h *Product3DHandler) Handle(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
	ctx, span := otel.Tracer("worker").Start(ctx, "handler.product_3d")
	defer span.End()

	var req domain.ProductRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid payload")
		return nil, fmt.Errorf("invalid product_3d payload: %w", err)
	}

	span.SetAttributes(attribute.String("product.title", req.ProductData.Title))

	// The image is the required input: without either inline data or a real
	// URL there is nothing to model, and the external call must not happen.
	img, mime, err := productImage(req.ProductData)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing image")
		return nil, err
	}

	resp, err := h.gen.Generate(ctx, gemini.Request{
		SystemInstruction: prompt.Product3DSystem(req.ProductData, req.ShopTheme),
		Prompt:            prompt.BaseObjectPrompt,
		ImageMIME:         mime,
		ImageData:         img,
		MaxTokens:         req.EffectiveMaxTokens(),
		Temperature:       req.EffectiveTemperature(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		return nil, err
	}

	usage := resp.Usage
	return &domain.JobResult{
		JobID:       job.ID,
		Status:      domain.StatusCompleted,
		ProductID:   req.ProductData.ID,
		ProductName: req.ProductData.Title,
		Metadata:    resp.Text,
		Model:       h.gen.Model(),
		Usage:       &usage,
	}, nil
}

// productImage returns the inline image bytes when base64 data is supplied,
// or nil bytes when only a fetchable URL reference exists (the model then
// works from text alone, matching the submit contract). Anything else is a
// missing image.
func productImage(p domain.ProductData) ([]byte, string, error) {
	if p.ImageBase64 != "" {
		img, err := base64.StdEncoding.DecodeString(p.ImageBase64)
		if err != nil {
			return nil, "", &domain.GenerationError{Reason: "product image is not valid base64", Err: err}
		}
		return img, sniffMIME(img), nil
	}

	u, err := url.Parse(strings.TrimSpace(p.FeaturedImage))
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, "", &domain.GenerationError{Reason: "no product image provided"}
	}
	return nil, "", nil
}

func sniffMIME(img []byte) string {
	switch {
	case len(img) >= 3 && img[0] == 0xff && img[1] == 0xd8 && img[2] == 0xff:
		return "image/jpeg"
	case len(img) >= 8 && string(img[:8]) == "\x89PNG\r\n\x1a\n":
		return "image/png"
	case len(img) >= 6 && (string(img[:6]) == "GIF87a" || string(img[:6]) == "GIF89a"):
		return "image/gif"
	case len(img) >= 12 && string(img[8:12]) == "WEBP":
		return "image/webp"
	default:
		return "image/png"
	}
}
