package studio

import (
	"context"
	"fmt"
	"strings"

	"prism/internal/catalog"
	"prism/internal/history"
	"prism/internal/providers"
)

type GenerateInput struct {
	ModelID    string
	Prompt     string
	Size       string
	References []string
	Extra      map[string]any
}

type EditInput struct {
	ModelID string
	Prompt  string
	Image   string
	Extra   map[string]any
}

// GenerateImage runs a text-to-image (or reference-guided) generation and
// records the result in the images log.
func (s *Studio) GenerateImage(ctx context.Context, in GenerateInput) (history.GenerationRecord, error) {
	model, err := s.model(in.ModelID, s.cfg.DefaultImageModel, catalog.KindImageGenerate)
	if err != nil {
		return history.GenerationRecord{}, err
	}
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return history.GenerationRecord{}, providers.ErrEmptyPrompt
	}
	size := strings.TrimSpace(in.Size)
	if size == "" {
		size = providers.DefaultSize
	}

	if !s.imageBusy.TryLock() {
		return history.GenerationRecord{}, providers.ErrBusy
	}
	defer s.imageBusy.Unlock()

	ep, err := s.cfg.Endpoints.Require(ctx, model.ProviderID)
	if err != nil {
		return history.GenerationRecord{}, err
	}

	body := providers.BuildImageGeneration(model, prompt, size, in.References, in.Extra)
	cctx, cancel := s.withTimeout(ctx)
	u, err := s.cfg.Clients.Images(ep).GenerateImage(cctx, body)
	cancel()
	if err != nil {
		s.cfg.Logger.Warn().Err(err).Str("model", model.ID).Msg("image generation failed")
		return history.GenerationRecord{}, err
	}

	rec := history.GenerationRecord{
		ID:                 history.NewID(),
		ImageRef:           u,
		Prompt:             prompt,
		CreatedAt:          now(),
		ReferenceImageRefs: append([]string(nil), in.References...),
		SizeSpec:           size,
		ModelID:            model.ID,
		ProviderID:         model.ProviderID,
	}
	s.mirror(ctx, &rec)
	if err := s.cfg.History.Images.Append(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// EditImage runs an asynchronous image-to-image edit. Inline data URL
// references are uploaded first when a publisher is configured.
func (s *Studio) EditImage(ctx context.Context, in EditInput) (history.GenerationRecord, error) {
	model, err := s.model(in.ModelID, s.cfg.DefaultEditModel, catalog.KindImageEdit)
	if err != nil {
		return history.GenerationRecord{}, err
	}
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return history.GenerationRecord{}, providers.ErrEmptyPrompt
	}
	ref := strings.TrimSpace(in.Image)
	if ref == "" {
		return history.GenerationRecord{}, ErrMissingImage
	}
	if providers.IsDataURL(ref) && s.cfg.Publisher == nil {
		return history.GenerationRecord{}, providers.ErrInlineImage
	}

	if !s.imageBusy.TryLock() {
		return history.GenerationRecord{}, providers.ErrBusy
	}
	defer s.imageBusy.Unlock()

	ep, err := s.cfg.Endpoints.Require(ctx, model.ProviderID)
	if err != nil {
		return history.GenerationRecord{}, err
	}

	if providers.IsDataURL(ref) {
		published, err := s.cfg.Publisher.PublishDataURL(ctx, ref)
		if err != nil {
			return history.GenerationRecord{}, fmt.Errorf("upload reference image: %w", err)
		}
		ref = published
	}

	body, err := providers.BuildImageEdit(model, prompt, ref, in.Extra)
	if err != nil {
		return history.GenerationRecord{}, err
	}
	u, err := s.cfg.Clients.Edits(ep).EditImage(ctx, body)
	if err != nil {
		s.cfg.Logger.Warn().Err(err).Str("model", model.ID).Msg("image edit failed")
		return history.GenerationRecord{}, err
	}

	rec := history.GenerationRecord{
		ID:                 history.NewID(),
		ImageRef:           u,
		Prompt:             prompt,
		CreatedAt:          now(),
		ReferenceImageRefs: []string{ref},
		ModelID:            model.ID,
		ProviderID:         model.ProviderID,
	}
	s.mirror(ctx, &rec)
	if err := s.cfg.History.Images.Append(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// mirror replaces the provider URL with a stored copy. Failure keeps the
// provider URL.
func (s *Studio) mirror(ctx context.Context, rec *history.GenerationRecord) {
	if s.cfg.Publisher == nil {
		return
	}
	u, err := s.cfg.Publisher.Mirror(ctx, rec.ImageRef)
	if err != nil {
		s.cfg.Logger.Warn().Err(err).Str("record", rec.ID).Msg("image mirror failed, keeping provider url")
		return
	}
	rec.SourceURL = rec.ImageRef
	rec.ImageRef = u
}
