package tasks_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamad-damaj/shoptimizer/internal/domain"
	"github.com/mohamad-damaj/shoptimizer/internal/gemini"
	"github.com/mohamad-damaj/shoptimizer/internal/tasks"
)

// stubGen records Generate calls and replays a canned response.
type stubGen struct {
	calls int
	last  gemini.Request
	resp  *gemini.Response
	err   error
}

func (s *stubGen) Generate(_ context.Context, req gemini.Request) (*gemini.Response, error) {
	s.calls++
	s.last = req
	return s.resp, s.err
}

func (s *stubGen) Model() string { return "gemini-3-flash-preview" }

func productJob(t *testing.T, req domain.ProductRequest) *domain.Job {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	return &domain.Job{ID: "job-1", Kind: domain.KindProduct3D, Payload: payload}
}

func TestProduct3DHandler_Success(t *testing.T) {
	img := base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\nrest"))
	gen := &stubGen{resp: &gemini.Response{
		Text:  "OK",
		Usage: domain.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}}
	h := tasks.NewProduct3DHandler(gen)

	res, err := h.Handle(context.Background(), productJob(t, domain.ProductRequest{
		ProductData: domain.ProductData{
			ID:            "prod-9",
			Title:         "Marble Ashtray",
			FeaturedImage: "<none>",
			ImageBase64:   img,
		},
	}))
	require.NoError(t, err)

	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, "job-1", res.JobID)
	assert.Equal(t, "prod-9", res.ProductID)
	assert.Equal(t, "Marble Ashtray", res.ProductName)
	assert.Equal(t, "OK", res.Metadata)
	assert.Equal(t, "gemini-3-flash-preview", res.Model)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 10, res.Usage.InputTokens)
	assert.Equal(t, 5, res.Usage.OutputTokens)
	assert.Equal(t, 15, res.Usage.TotalTokens)

	assert.Equal(t, "image/png", gen.last.ImageMIME)
	assert.Equal(t, domain.DefaultMaxTokens, gen.last.MaxTokens)
	assert.InDelta(t, domain.DefaultTemperature, gen.last.Temperature, 1e-9)
}

func TestProduct3DHandler_MissingImage_SkipsModelCall(t *testing.T) {
	gen := &stubGen{}
	h := tasks.NewProduct3DHandler(gen)

	_, err := h.Handle(context.Background(), productJob(t, domain.ProductRequest{
		ProductData: domain.ProductData{Title: "Chair", FeaturedImage: "<none>"},
	}))
	require.Error(t, err)

	var genErr *domain.GenerationError
	assert.True(t, errors.As(err, &genErr))
	assert.Equal(t, 0, gen.calls, "model must not be called without an image")
}

func TestProduct3DHandler_ImageURL_Accepted(t *testing.T) {
	gen := &stubGen{resp: &gemini.Response{Text: "code"}}
	h := tasks.NewProduct3DHandler(gen)

	res, err := h.Handle(context.Background(), productJob(t, domain.ProductRequest{
		ProductData: domain.ProductData{
			Title:         "Lamp",
			FeaturedImage: "https://cdn.example.com/lamp.jpg",
		},
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, gen.calls)
	assert.Empty(t, gen.last.ImageData)
	assert.Equal(t, domain.StatusCompleted, res.Status)
}

func TestProduct3DHandler_InvalidPayload(t *testing.T) {
	gen := &stubGen{}
	h := tasks.NewProduct3DHandler(gen)

	_, err := h.Handle(context.Background(), &domain.Job{ID: "job-1", Payload: []byte("{")})
	require.Error(t, err)
	assert.Equal(t, 0, gen.calls)
}

func TestProduct3DHandler_ModelError_Propagates(t *testing.T) {
	img := base64.StdEncoding.EncodeToString([]byte("\xff\xd8\xffjpeg"))
	gen := &stubGen{err: &domain.GenerationError{Reason: "model returned status 429"}}
	h := tasks.NewProduct3DHandler(gen)

	_, err := h.Handle(context.Background(), productJob(t, domain.ProductRequest{
		ProductData: domain.ProductData{Title: "Vase", FeaturedImage: "<none>", ImageBase64: img},
	}))
	require.Error(t, err)
	assert.Equal(t, "GenerationError", domain.ErrorKind(err))
	assert.Equal(t, "image/jpeg", gen.last.ImageMIME)
}
