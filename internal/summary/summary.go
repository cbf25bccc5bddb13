// Package summary implements the rolling room-summary and user-
// personalization aggregators (§4.H). Both follow the same shape: load the
// existing aggregate, merge or seed, cap at aggregates.SummaryCap, bump the
// message count, and upsert — failures are logged and swallowed, since a
// summary miss must never surface to the ingestion caller.
package summary

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"meego/internal/aggregates"
	"meego/internal/dispatch"
	"meego/internal/queue"
)

// condenseThreshold is the length above which a standalone new message is
// condensed by the LLM rather than seeded verbatim (§4.H).
const condenseThreshold = 200

// Aggregator updates room and user aggregates from newly ingested text.
type Aggregator struct {
	aggregates *aggregates.Store
	queue      *queue.Queue
}

// New constructs a summary Aggregator.
func New(aggregateStore *aggregates.Store, q *queue.Queue) *Aggregator {
	return &Aggregator{aggregates: aggregateStore, queue: q}
}

// UpdateRoomSummary merges newText into roomID's rolling summary. Errors
// are logged, never returned to a caller that fired this asynchronously —
// but the error is still returned so a synchronous caller (tests) can
// assert on it; §4.G's ingestion pipeline calls this in a goroutine and
// discards the result.
func (a *Aggregator) UpdateRoomSummary(ctx context.Context, roomID, newText, senderName string) error {
	existing, err := a.aggregates.GetRoom(ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("summary_room_load_failed")
		return err
	}

	merged, err := a.merge(ctx, existingSummary(existing), newText, senderName, roomPrompt)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("summary_room_merge_failed")
		return err
	}
	messageCount := 1
	if existing != nil {
		messageCount = existing.MessageCount + 1
	}

	if err := a.aggregates.PutRoom(ctx, aggregates.Room{RoomID: roomID, Summary: merged, MessageCount: messageCount}); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("summary_room_upsert_failed")
		return err
	}
	return nil
}

// UpdateUserPersonalization merges newText into userID's persona summary,
// following the same shape as UpdateRoomSummary with a persona-focused
// prompt.
func (a *Aggregator) UpdateUserPersonalization(ctx context.Context, userID, newText, senderName string) error {
	existing, err := a.aggregates.GetUser(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("summary_user_load_failed")
		return err
	}

	merged, err := a.merge(ctx, existingPersonalization(existing), newText, senderName, userPrompt)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("summary_user_merge_failed")
		return err
	}
	messageCount := 1
	if existing != nil {
		messageCount = existing.MessageCount + 1
	}

	if err := a.aggregates.PutUser(ctx, aggregates.User{UserID: userID, PersonalizationSummary: merged, MessageCount: messageCount}); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("summary_user_upsert_failed")
		return err
	}
	return nil
}

type promptBuilder func(priorSummary, newText, senderName string) (system, user string)

// merge implements the three-way branch common to both aggregators: merge
// with a prior summary, condense a long standalone message, or seed from
// the raw message verbatim.
func (a *Aggregator) merge(ctx context.Context, priorSummary, newText, senderName string, prompts promptBuilder) (string, error) {
	var merged string

	switch {
	case priorSummary != "":
		system, user := prompts(priorSummary, newText, senderName)
		result, err := dispatch.RunLLM(ctx, a.queue, dispatch.LLMPayload{
			SystemPrompt: system,
			UserPrompt:   user,
			MaxTokens:    800,
			Temperature:  0.2,
		}, queue.PriorityNormal)
		if err != nil {
			return "", fmt.Errorf("summary: merge: %w", err)
		}
		merged = result.Text

	case len(newText) > condenseThreshold:
		system, user := prompts("", newText, senderName)
		result, err := dispatch.RunLLM(ctx, a.queue, dispatch.LLMPayload{
			SystemPrompt: system,
			UserPrompt:   user,
			MaxTokens:    600,
			Temperature:  0.2,
		}, queue.PriorityNormal)
		if err != nil {
			return "", fmt.Errorf("summary: condense: %w", err)
		}
		merged = result.Text

	default:
		merged = seed(newText, senderName)
	}

	if r := []rune(merged); len(r) > aggregates.SummaryCap {
		merged = string(r[:aggregates.SummaryCap])
	}
	return merged, nil
}

func seed(newText, senderName string) string {
	if senderName == "" {
		return newText
	}
	return senderName + ": " + newText
}

func existingSummary(room *aggregates.Room) string {
	if room == nil {
		return ""
	}
	return room.Summary
}

func existingPersonalization(user *aggregates.User) string {
	if user == nil {
		return ""
	}
	return user.PersonalizationSummary
}

func roomPrompt(priorSummary, newText, senderName string) (system, user string) {
	system = "You maintain a running summary of a chat room's conversation. " +
		"Respond with only the updated summary text, no preamble, no headings."
	attributed := newText
	if senderName != "" {
		attributed = senderName + ": " + newText
	}
	if priorSummary == "" {
		return system, fmt.Sprintf("Condense this message into a concise summary:\n\n%s", attributed)
	}
	return system, fmt.Sprintf("Prior summary:\n%s\n\nNew message:\n%s\n\nProduce a merged summary capturing both, under 3000 characters.", priorSummary, attributed)
}

func userPrompt(priorSummary, newText, senderName string) (system, user string) {
	system = "You maintain a running personalization profile of a chat participant: " +
		"their preferences, communication style, and interests. Respond with only the " +
		"updated profile text, no preamble, no headings."
	attributed := newText
	if senderName != "" {
		attributed = senderName + ": " + newText
	}
	if priorSummary == "" {
		return system, fmt.Sprintf("Extract persona-relevant signal from this message:\n\n%s", attributed)
	}
	return system, fmt.Sprintf("Prior profile:\n%s\n\nNew message:\n%s\n\nProduce a merged profile, under 3000 characters.", priorSummary, attributed)
}
