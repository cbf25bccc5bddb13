// Package ingest implements message ingestion (§4.G): validate the
// incoming message, extract text from any attached media, embed the
// concatenated text, write the message, and fire off summary updates
// without blocking the caller on them.
//
// Grounded on manifold's internal/orchestrator/pipeline.go stage-sequencing
// shape (validate -> fan out -> join -> persist), with the media fan-out
// translated to golang.org/x/sync/errgroup per SPEC_FULL.md §4.I's
// errgroup convention.
package ingest

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"meego/internal/apperr"
	"meego/internal/dispatch"
	"meego/internal/embedding"
	"meego/internal/mediafetch"
	"meego/internal/messages"
	"meego/internal/queue"
	"meego/internal/summary"
)

// ocrExtractPrompt is the strict extract-only OCR prompt (§4.C): the model
// is told to answer with the literal sentinel when the image carries no
// text, distinguishing "nothing to extract" from "extraction failed".
const ocrExtractPrompt = `Extract all text visible in this image verbatim, with no commentary or formatting. If the image contains no readable text, respond with exactly: NO_TEXT`

const ocrNoTextSentinel = "NO_TEXT"

// ocrTemperature pins OCR's extract-only prompt to a near-deterministic
// temperature, unlike image description which uses the provider default.
const ocrTemperature = 0.1

// MediaKind selects how a media item is processed.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// MediaInput is one attached media item to extract text from.
type MediaInput struct {
	Kind MediaKind
	URL  string // opaque key passed to internal/mediafetch
}

// Input is a single ingestion request (§4.G).
type Input struct {
	RoomID            string
	SenderID          string
	SenderName        string
	ExternalMessageID string
	Text              string
	Media             []MediaInput
}

// Pipeline wires the collaborators message ingestion needs.
type Pipeline struct {
	media     *mediafetch.Client
	embedding *embedding.Client
	queue     *queue.Queue
	messages  *messages.Store
	summary   *summary.Aggregator
}

// New constructs an ingestion Pipeline.
func New(media *mediafetch.Client, embed *embedding.Client, q *queue.Queue, msgStore *messages.Store, summaryAgg *summary.Aggregator) *Pipeline {
	return &Pipeline{media: media, embedding: embed, queue: q, messages: msgStore, summary: summaryAgg}
}

// Ingest validates in, extracts any media text, embeds, and persists the
// message. It returns once the message is written; summary updates race
// the response per §4.G step 5.
func (p *Pipeline) Ingest(ctx context.Context, in Input) (messages.Message, error) {
	if in.RoomID == "" || in.ExternalMessageID == "" {
		return messages.Message{}, fmt.Errorf("ingest: roomId and externalMessageId required: %w", apperr.ErrValidation)
	}
	if strings.TrimSpace(in.Text) == "" && len(in.Media) == 0 {
		return messages.Message{}, fmt.Errorf("ingest: noContent: %w", apperr.ErrValidation)
	}

	refs, err := p.extractMedia(ctx, in.Media)
	if err != nil {
		return messages.Message{}, err
	}

	parts := make([]string, 0, len(refs)+1)
	if strings.TrimSpace(in.Text) != "" {
		parts = append(parts, strings.TrimSpace(in.Text))
	}
	for _, r := range refs {
		if r.ExtractedText != "" {
			parts = append(parts, r.ExtractedText)
		}
	}
	fullText := strings.Join(parts, " ")
	if fullText == "" {
		return messages.Message{}, fmt.Errorf("ingest: noContent: %w", apperr.ErrValidation)
	}

	vector, err := p.embedding.Embed(ctx, fullText, embedding.PrefixPassage)
	if err != nil {
		return messages.Message{}, fmt.Errorf("ingest: embed: %w", err)
	}

	msg, err := p.messages.Insert(ctx, messages.Message{
		ExternalMessageID: in.ExternalMessageID,
		RoomID:            in.RoomID,
		SenderID:          in.SenderID,
		SenderName:        in.SenderName,
		Text:              fullText,
		MediaRefs:         refs,
		Vector:            vector,
	})
	if err != nil {
		return messages.Message{}, fmt.Errorf("ingest: store message: %w", err)
	}

	go p.updateSummaries(in.RoomID, in.SenderID, fullText, in.SenderName)

	return msg, nil
}

// updateSummaries runs fire-and-forget per §4.G step 5: failures are
// logged, never surfaced, and race the caller's response.
func (p *Pipeline) updateSummaries(roomID, senderID, text, senderName string) {
	ctx := context.Background()
	if err := p.summary.UpdateRoomSummary(ctx, roomID, text, senderName); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("ingest_room_summary_failed")
	}
	if senderID != "" {
		if err := p.summary.UpdateUserPersonalization(ctx, senderID, text, senderName); err != nil {
			log.Warn().Err(err).Str("sender_id", senderID).Msg("ingest_user_personalization_failed")
		}
	}
}

// extractMedia fetches and runs extraction jobs for each media item
// concurrently, preserving input order in the returned slice.
func (p *Pipeline) extractMedia(ctx context.Context, items []MediaInput) ([]messages.MediaRef, error) {
	if len(items) == 0 {
		return nil, nil
	}

	refs := make([]messages.MediaRef, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			text, hasText, err := p.extractOne(gctx, item)
			if err != nil {
				return fmt.Errorf("ingest: extract media %s: %w", item.URL, err)
			}
			refs[i] = messages.MediaRef{Kind: string(item.Kind), URL: item.URL, ExtractedText: text, HasText: hasText}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return refs, nil
}

// extractOne fetches and extracts text for one media item. hasText only
// carries real meaning for images (whether OCR found any text); other
// kinds always report true since they have no NO_TEXT sentinel to map.
func (p *Pipeline) extractOne(ctx context.Context, item MediaInput) (string, bool, error) {
	fetched, err := p.media.Fetch(ctx, item.URL)
	if err != nil {
		return "", false, err
	}

	switch item.Kind {
	case MediaImage:
		return p.extractImage(ctx, fetched)
	case MediaAudio:
		text, err := p.extractAudio(ctx, fetched)
		return text, true, err
	case MediaDocument:
		return string(fetched.Bytes), true, nil
	default:
		return "", false, fmt.Errorf("unknown media kind %q", item.Kind)
	}
}

// extractImage runs OCR and description concurrently and joins both texts,
// per §4.G step 1: "image -> OCR and description". OCR uses a strict
// extract-only prompt at low temperature and maps its NO_TEXT sentinel to
// hasText=false (§4.C).
func (p *Pipeline) extractImage(ctx context.Context, media mediafetch.Media) (string, bool, error) {
	encoded := base64.StdEncoding.EncodeToString(media.Bytes)

	var description, ocrText string
	var hasText bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result, err := dispatch.RunVision(gctx, p.queue, "image", dispatch.VisionPayload{
			Prompt:      "Describe this image in detail.",
			MimeType:    media.ContentType,
			ImageBase64: encoded,
		}, queue.PriorityNormal)
		if err != nil {
			return err
		}
		description = result.Text
		return nil
	})
	g.Go(func() error {
		result, err := dispatch.RunVision(gctx, p.queue, "ocr", dispatch.VisionPayload{
			Prompt:      ocrExtractPrompt,
			MimeType:    media.ContentType,
			ImageBase64: encoded,
			Temperature: ocrTemperature,
		}, queue.PriorityNormal)
		if err != nil {
			return err
		}
		text := strings.TrimSpace(result.Text)
		if text == "" || text == ocrNoTextSentinel {
			return nil
		}
		hasText = true
		ocrText = text
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", false, err
	}

	parts := make([]string, 0, 2)
	if description != "" {
		parts = append(parts, description)
	}
	if ocrText != "" {
		parts = append(parts, ocrText)
	}
	return strings.Join(parts, " "), hasText, nil
}

func (p *Pipeline) extractAudio(ctx context.Context, media mediafetch.Media) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(media.Bytes)
	result, err := dispatch.RunAudio(ctx, p.queue, dispatch.AudioPayload{
		MimeType:    media.ContentType,
		AudioBase64: encoded,
	}, queue.PriorityNormal)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}
