// Package chat implements the chat and reply orchestrators (§4.J): run
// the context assembler, dispatch an LLM job with the composed prompt,
// recover a structured answer from whatever text the model returned, and
// (chat only) persist the turn to history.
//
// Grounded on manifold's internal/agent/warpp.go orchestration shape
// (assemble -> dispatch -> parse -> persist) and its JSON-recovery
// approach to model output that doesn't always come back as clean JSON.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"meego/internal/assembler"
	"meego/internal/dispatch"
	"meego/internal/history"
	"meego/internal/queue"
)

const (
	chatMaxTokens    = 1500
	chatTemperature  = 0.5
	replyMaxTokens   = 1000
	replyTemperature = 0.6
)

// Answer is the recovered model output plus provenance and timing.
type Answer struct {
	Answer          string
	SuggestedAnswer *string
	Provider        string
	Model           string
	ContextQuality  ContextQuality
	ElapsedMillis   int64
}

// ContextQuality summarises how much context the assembler actually found,
// surfaced to callers as the "context-quality-fields" spec.md §4.J names.
type ContextQuality struct {
	HasRoomSummary bool
	HasUserProfile bool
	HistoryCount   int
	MessageCount   int
}

// Orchestrator runs the chat and reply flows.
type Orchestrator struct {
	assembler *assembler.Assembler
	history   *history.Store
	queue     *queue.Queue
}

// New constructs a chat Orchestrator.
func New(a *assembler.Assembler, h *history.Store, q *queue.Queue) *Orchestrator {
	return &Orchestrator{assembler: a, history: h, queue: q}
}

// Chat answers a free-form question for (roomID, userID), asynchronously
// persisting the turn to history on success. It never persists on failure.
func (o *Orchestrator) Chat(ctx context.Context, roomID, userID, question string) (Answer, error) {
	started := time.Now()

	ctxData, err := o.assembler.AssembleForChat(ctx, roomID, userID)
	if err != nil {
		return Answer{}, fmt.Errorf("chat: assemble context: %w", err)
	}

	system, user := assembler.BuildChatPrompt(ctxData, question)
	result, err := dispatch.RunLLM(ctx, o.queue, dispatch.LLMPayload{
		SystemPrompt: system,
		UserPrompt:   user,
		MaxTokens:    chatMaxTokens,
		Temperature:  chatTemperature,
	}, queue.PriorityHigh)
	if err != nil {
		return Answer{}, fmt.Errorf("chat: run llm: %w", err)
	}

	parsed := recoverAnswer(result.Text)
	answer := Answer{
		Answer:          parsed.answer,
		SuggestedAnswer: parsed.suggestedAnswer,
		Provider:        string(result.Provider),
		Model:           result.Model,
		ElapsedMillis:   time.Since(started).Milliseconds(),
		ContextQuality:  contextQuality(ctxData),
	}

	go o.persist(roomID, userID, question, answer)

	return answer, nil
}

// Reply drafts a reply to the message identified by (roomID,
// targetExternalMessageID) on behalf of senderID. It runs the same
// machinery as Chat but never persists a history record.
func (o *Orchestrator) Reply(ctx context.Context, roomID, senderID, targetExternalMessageID string) (Answer, error) {
	started := time.Now()

	ctxData, err := o.assembler.AssembleForReply(ctx, roomID, senderID, targetExternalMessageID)
	if err != nil {
		return Answer{}, err
	}

	system, user := assembler.BuildReplyPrompt(ctxData)
	result, err := dispatch.RunLLM(ctx, o.queue, dispatch.LLMPayload{
		SystemPrompt: system,
		UserPrompt:   user,
		MaxTokens:    replyMaxTokens,
		Temperature:  replyTemperature,
	}, queue.PriorityHigh)
	if err != nil {
		return Answer{}, fmt.Errorf("chat: run llm: %w", err)
	}

	parsed := recoverAnswer(result.Text)
	return Answer{
		Answer:          parsed.answer,
		SuggestedAnswer: parsed.suggestedAnswer,
		Provider:        string(result.Provider),
		Model:           result.Model,
		ElapsedMillis:   time.Since(started).Milliseconds(),
		ContextQuality:  contextQuality(ctxData),
	}, nil
}

func (o *Orchestrator) persist(roomID, userID, question string, answer Answer) {
	suggested := ""
	if answer.SuggestedAnswer != nil {
		suggested = *answer.SuggestedAnswer
	}
	record := history.Record{
		UserID:          userID,
		RoomID:          roomID,
		Question:        question,
		Answer:          answer.Answer,
		SuggestedAnswer: suggested,
		ProviderName:    answer.Provider,
		ModelName:       answer.Model,
	}
	if err := o.history.Insert(context.Background(), record); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Str("user_id", userID).Msg("chat_history_persist_failed")
	}
}

func contextQuality(ctx assembler.Context) ContextQuality {
	return ContextQuality{
		HasRoomSummary: ctx.Room != nil && ctx.Room.Summary != "",
		HasUserProfile: ctx.User != nil && ctx.User.PersonalizationSummary != "",
		HistoryCount:   len(ctx.History),
		MessageCount:   len(ctx.RecentMessages),
	}
}

type recovered struct {
	answer          string
	suggestedAnswer *string
}

type answerShape struct {
	Answer          any     `json:"answer"`
	SuggestedAnswer *string `json:"suggested_answer"`
}

var (
	codeFenceRe      = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	jsonRegionRe     = regexp.MustCompile(`(?s)\{.*\}`)
	answerFieldRe    = regexp.MustCompile(`"answer"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	suggestedFieldRe = regexp.MustCompile(`"suggested_answer"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// recoverAnswer implements §4.J step 4's recovery ladder: direct parse, strip
// code fences and retry, extract the first {...} region and retry,
// regex-extract the answer/suggested_answer string literals, and finally
// fall back to the raw text as the answer with a null suggestion.
func recoverAnswer(raw string) recovered {
	trimmed := strings.TrimSpace(raw)

	if shape, ok := tryParse(trimmed); ok {
		return finish(shape)
	}

	if m := codeFenceRe.FindStringSubmatch(trimmed); m != nil {
		if shape, ok := tryParse(strings.TrimSpace(m[1])); ok {
			return finish(shape)
		}
	}

	if m := jsonRegionRe.FindString(trimmed); m != "" {
		if shape, ok := tryParse(m); ok {
			return finish(shape)
		}
	}

	if m := answerFieldRe.FindStringSubmatch(trimmed); m != nil {
		answer := unescapeJSONString(m[1])
		var suggested *string
		if sm := suggestedFieldRe.FindStringSubmatch(trimmed); sm != nil {
			s := unescapeJSONString(sm[1])
			suggested = &s
		}
		return recovered{answer: answer, suggestedAnswer: suggested}
	}

	return recovered{answer: trimmed, suggestedAnswer: nil}
}

func tryParse(text string) (answerShape, bool) {
	var shape answerShape
	if err := json.Unmarshal([]byte(text), &shape); err != nil {
		return answerShape{}, false
	}
	if shape.Answer == nil {
		return answerShape{}, false
	}
	return shape, true
}

// finish stringifies the answer field, handling §4.J's "if the extracted
// answer is itself a JSON object, parse once more" case.
func finish(shape answerShape) recovered {
	switch v := shape.Answer.(type) {
	case string:
		return recovered{answer: v, suggestedAnswer: shape.SuggestedAnswer}
	default:
		if encoded, err := json.Marshal(v); err == nil {
			var nested answerShape
			if err := json.Unmarshal(encoded, &nested); err == nil && nested.Answer != nil {
				if s, ok := nested.Answer.(string); ok {
					suggested := shape.SuggestedAnswer
					if suggested == nil {
						suggested = nested.SuggestedAnswer
					}
					return recovered{answer: s, suggestedAnswer: suggested}
				}
			}
			return recovered{answer: string(encoded), suggestedAnswer: shape.SuggestedAnswer}
		}
		return recovered{answer: fmt.Sprintf("%v", v), suggestedAnswer: shape.SuggestedAnswer}
	}
}

func unescapeJSONString(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err == nil {
		return out
	}
	return s
}
