// Package assembler builds the structured prompt context for a chat or
// reply turn (§4.I): a parallel fetch of the room/user aggregates, prior
// AI-chat history, and recent room messages, followed by a deterministic
// text builder whose section order and headings are fixed so the rendered
// prompt is stable across runs.
//
// Grounded on manifold's internal/agent/warpp.go errgroup.WithContext(ctx)
// fan-out-then-join shape, adapted from a tool-call fan-out to a
// read-only context fan-out with each subfetch writing into its own
// pre-allocated result slot.
package assembler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"meego/internal/aggregates"
	"meego/internal/apperr"
	"meego/internal/history"
	"meego/internal/messages"
)

// historyLimit is N in spec.md §4.I: "latest N=5 AIChatRecords".
const historyLimit = 5

// messageLimit is spec.md §4.I: "latest 15 messages for roomId".
const messageLimit = 15

// Context is everything the prompt builder needs, fetched in parallel.
type Context struct {
	Room           *aggregates.Room
	User           *aggregates.User
	History        []history.Record   // oldest-first, for the prompt
	RecentMessages []messages.Message // newest-first
	TargetMessage  *messages.Message  // reply only
}

// Assembler fetches context for a chat or reply turn.
type Assembler struct {
	aggregates *aggregates.Store
	history    *history.Store
	messages   *messages.Store
}

// New constructs an Assembler.
func New(aggregateStore *aggregates.Store, historyStore *history.Store, messageStore *messages.Store) *Assembler {
	return &Assembler{aggregates: aggregateStore, history: historyStore, messages: messageStore}
}

// AssembleForChat fetches room/user aggregates, prior AI-chat history for
// (userID, roomID), and recent room messages, in parallel.
func (a *Assembler) AssembleForChat(ctx context.Context, roomID, userID string) (Context, error) {
	var result Context
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		room, err := a.aggregates.GetRoom(gctx, roomID)
		if err != nil {
			return err
		}
		result.Room = room
		return nil
	})
	g.Go(func() error {
		user, err := a.aggregates.GetUser(gctx, userID)
		if err != nil {
			return err
		}
		result.User = user
		return nil
	})
	g.Go(func() error {
		records, err := a.history.Latest(gctx, userID, roomID, historyLimit)
		if err != nil {
			return err
		}
		result.History = oldestFirst(records)
		return nil
	})
	g.Go(func() error {
		recent, err := a.messages.LatestForRoom(gctx, roomID, messageLimit)
		if err != nil {
			return err
		}
		result.RecentMessages = recent
		return nil
	})

	if err := g.Wait(); err != nil {
		return Context{}, fmt.Errorf("assembler: assemble for chat: %w", err)
	}
	return result, nil
}

// AssembleForReply fetches the same aggregates and recent messages as
// AssembleForChat (but no history, since replies never persist or consult
// it) plus the target message, then enforces §4.I's two preconditions:
// the target message must exist and must not belong to the replying
// sender.
func (a *Assembler) AssembleForReply(ctx context.Context, roomID, senderID, externalMessageID string) (Context, error) {
	var result Context
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		room, err := a.aggregates.GetRoom(gctx, roomID)
		if err != nil {
			return err
		}
		result.Room = room
		return nil
	})
	g.Go(func() error {
		user, err := a.aggregates.GetUser(gctx, senderID)
		if err != nil {
			return err
		}
		result.User = user
		return nil
	})
	g.Go(func() error {
		recent, err := a.messages.LatestForRoom(gctx, roomID, messageLimit)
		if err != nil {
			return err
		}
		result.RecentMessages = recent
		return nil
	})
	g.Go(func() error {
		target, err := a.messages.FindByExternalID(gctx, roomID, externalMessageID)
		if err != nil {
			return err
		}
		result.TargetMessage = target
		return nil
	})

	if err := g.Wait(); err != nil {
		return Context{}, fmt.Errorf("assembler: assemble for reply: %w", err)
	}

	if result.TargetMessage == nil {
		return Context{}, fmt.Errorf("assembler: messageNotFound: %w", apperr.ErrNotFound)
	}
	if result.TargetMessage.SenderID == senderID {
		return Context{}, fmt.Errorf("assembler: cannotReplyToSelf: %w", apperr.ErrForbidden)
	}
	return result, nil
}

// chatPersona names the assistant persona and pins chat tone guidance
// (§4.I: "a fixed system prompt names the assistant persona").
const chatPersona = `You are ميجو, a warm and helpful conversational assistant embedded in a group chat. ` +
	`Speak naturally and concisely, match the room's language, and ground every answer in the ` +
	`context provided below rather than inventing facts.`

// replyPersona is the shorter system prompt used for the reply flow
// (§4.I: "respond as the user, not as an assistant").
const replyPersona = `You are drafting a reply on behalf of the chat participant who is replying to the starred message. ` +
	`Respond as that person would, in their voice, not as an assistant.`

// BuildChatPrompt renders the deterministic chat prompt: Context, Task,
// Instructions, then the JSON-output specification.
func BuildChatPrompt(ctx Context, question string) (system, user string) {
	var b strings.Builder
	writeContextSection(&b, ctx)
	b.WriteString("## Task\n")
	b.WriteString(question)
	b.WriteString("\n\n")
	b.WriteString("## Instructions\n")
	if hasContext(ctx) {
		b.WriteString("Use the context above to answer the question accurately and concisely. ")
		b.WriteString("If the context doesn't cover the question, say so plainly rather than guessing.\n\n")
	} else {
		b.WriteString("No prior context is available for this room or user. Answer the question as best you can, ")
		b.WriteString("noting that you have no conversational history to draw on.\n\n")
	}
	writeOutputSpec(&b)
	return chatPersona, b.String()
}

// BuildReplyPrompt renders the deterministic reply prompt, with the target
// message starred in the Context section and a Task built from the target
// message rather than a free-form question.
func BuildReplyPrompt(ctx Context) (system, user string) {
	var b strings.Builder
	writeContextSection(&b, ctx)
	b.WriteString("## Task\n")
	b.WriteString("Draft a reply to the starred message above, as the person replying to it:\n")
	if ctx.TargetMessage != nil {
		b.WriteString(ctx.TargetMessage.Text)
	}
	b.WriteString("\n\n")
	b.WriteString("## Instructions\n")
	if hasContext(ctx) {
		b.WriteString("Use the context above to draft a reply that fits the conversation's tone and history.\n\n")
	} else {
		b.WriteString("No prior context is available for this room or user. Draft a reasonable reply using only ")
		b.WriteString("the starred message itself.\n\n")
	}
	writeOutputSpec(&b)
	return replyPersona, b.String()
}

func writeContextSection(b *strings.Builder, ctx Context) {
	b.WriteString("## Context\n")

	b.WriteString("### Room summary\n")
	if ctx.Room != nil && ctx.Room.Summary != "" {
		b.WriteString(ctx.Room.Summary)
	} else {
		b.WriteString("(none)")
	}
	b.WriteString("\n\n")

	b.WriteString("### User profile\n")
	if ctx.User != nil && ctx.User.PersonalizationSummary != "" {
		b.WriteString(ctx.User.PersonalizationSummary)
	} else {
		b.WriteString("(none)")
	}
	b.WriteString("\n\n")

	b.WriteString("### Prior AI chats\n")
	if len(ctx.History) == 0 {
		b.WriteString("(none)")
	} else {
		for _, rec := range ctx.History {
			fmt.Fprintf(b, "Q: %s\nA: %s\n", rec.Question, rec.Answer)
		}
	}
	b.WriteString("\n\n")

	b.WriteString("### Recent room messages\n")
	if len(ctx.RecentMessages) == 0 {
		b.WriteString("(none)")
	} else {
		for _, msg := range ctx.RecentMessages {
			star := ""
			if ctx.TargetMessage != nil && msg.ID == ctx.TargetMessage.ID {
				star = "* "
			}
			fmt.Fprintf(b, "%s[%s] %s: %s\n", star, relativeTime(msg.CreatedAt), msg.SenderName, msg.Text)
		}
	}
	b.WriteString("\n\n")
}

func writeOutputSpec(b *strings.Builder) {
	b.WriteString("## Output format\n")
	b.WriteString("Respond with JSON only, no prose, no code fences, matching exactly this shape:\n")
	b.WriteString(`{"answer": "<your answer>", "suggested_answer": "<a short alternative, or null>"}`)
	b.WriteString("\n")
}

func hasContext(ctx Context) bool {
	return (ctx.Room != nil && ctx.Room.Summary != "") ||
		(ctx.User != nil && ctx.User.PersonalizationSummary != "") ||
		len(ctx.History) > 0 ||
		len(ctx.RecentMessages) > 0
}

func relativeTime(t time.Time) string {
	if t.IsZero() {
		return "unknown time"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func oldestFirst(records []history.Record) []history.Record {
	out := make([]history.Record, len(records))
	for i, r := range records {
		out[len(records)-1-i] = r
	}
	return out
}
