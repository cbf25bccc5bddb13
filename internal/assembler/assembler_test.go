package assembler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"meego/internal/aggregates"
	"meego/internal/apperr"
	"meego/internal/history"
	"meego/internal/messages"
	"meego/internal/vectorstore"
)

func newTestAssembler(t *testing.T) (*Assembler, *aggregates.Store, *history.Store, *messages.Store) {
	t.Helper()
	vs, err := vectorstore.NewSQLiteStore(filepath.Join(t.TempDir(), "assembler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { vs.Close() })
	for _, c := range vectorstore.AllCollections {
		require.NoError(t, vs.Bootstrap(context.Background(), c))
	}

	aggStore := aggregates.New(vs)
	histStore := history.New(vs)
	msgStore := messages.New(vs)
	return New(aggStore, histStore, msgStore), aggStore, histStore, msgStore
}

func TestAssembleForChat_GathersAllSections(t *testing.T) {
	a, aggStore, histStore, msgStore := newTestAssembler(t)
	ctx := context.Background()

	require.NoError(t, aggStore.PutRoom(ctx, aggregates.Room{RoomID: "r1", Summary: "room summary", MessageCount: 3}))
	require.NoError(t, aggStore.PutUser(ctx, aggregates.User{UserID: "u1", PersonalizationSummary: "likes go", MessageCount: 2}))
	require.NoError(t, histStore.Insert(ctx, history.Record{UserID: "u1", RoomID: "r1", Question: "q1", Answer: "a1", CreatedAt: time.Now().Add(-time.Hour)}))
	require.NoError(t, histStore.Insert(ctx, history.Record{UserID: "u1", RoomID: "r1", Question: "q2", Answer: "a2", CreatedAt: time.Now()}))
	vec := make([]float32, vectorstore.EmbeddingDimension)
	_, err := msgStore.Insert(ctx, messages.Message{RoomID: "r1", ExternalMessageID: "m1", Text: "hello", Vector: vec})
	require.NoError(t, err)

	result, err := a.AssembleForChat(ctx, "r1", "u1")
	require.NoError(t, err)
	require.NotNil(t, result.Room)
	require.Equal(t, "room summary", result.Room.Summary)
	require.NotNil(t, result.User)
	require.Len(t, result.History, 2)
	require.Equal(t, "q1", result.History[0].Question) // oldest-first
	require.Len(t, result.RecentMessages, 1)
}

func TestAssembleForChat_AbsentAggregatesReturnNilNotError(t *testing.T) {
	a, _, _, _ := newTestAssembler(t)
	result, err := a.AssembleForChat(context.Background(), "unknown-room", "unknown-user")
	require.NoError(t, err)
	require.Nil(t, result.Room)
	require.Nil(t, result.User)
}

func TestAssembleForReply_MissingTargetFails(t *testing.T) {
	a, _, _, _ := newTestAssembler(t)
	_, err := a.AssembleForReply(context.Background(), "r1", "sender1", "missing-ext-id")
	require.Error(t, err)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAssembleForReply_SelfReplyForbidden(t *testing.T) {
	a, _, _, msgStore := newTestAssembler(t)
	ctx := context.Background()
	vec := make([]float32, vectorstore.EmbeddingDimension)
	_, err := msgStore.Insert(ctx, messages.Message{RoomID: "r1", ExternalMessageID: "m1", SenderID: "sender1", Text: "hi", Vector: vec})
	require.NoError(t, err)

	_, err = a.AssembleForReply(ctx, "r1", "sender1", "m1")
	require.Error(t, err)
	require.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestAssembleForReply_DifferentSenderSucceeds(t *testing.T) {
	a, _, _, msgStore := newTestAssembler(t)
	ctx := context.Background()
	vec := make([]float32, vectorstore.EmbeddingDimension)
	_, err := msgStore.Insert(ctx, messages.Message{RoomID: "r1", ExternalMessageID: "m1", SenderID: "other", Text: "hi", Vector: vec})
	require.NoError(t, err)

	result, err := a.AssembleForReply(ctx, "r1", "sender1", "m1")
	require.NoError(t, err)
	require.NotNil(t, result.TargetMessage)
	require.Equal(t, "hi", result.TargetMessage.Text)
}

func TestBuildChatPrompt_IncludesDeterministicSections(t *testing.T) {
	ctx := Context{
		Room: &aggregates.Room{Summary: "a quiet room"},
		User: &aggregates.User{PersonalizationSummary: "likes cats"},
	}
	system, user := BuildChatPrompt(ctx, "what time is it?")
	require.Contains(t, system, "ميجو")
	require.Contains(t, user, "## Context")
	require.Contains(t, user, "## Task")
	require.Contains(t, user, "## Instructions")
	require.Contains(t, user, "## Output format")
	require.Contains(t, user, "what time is it?")
	require.Contains(t, user, "a quiet room")
}

func TestBuildReplyPrompt_StarsTargetMessage(t *testing.T) {
	target := &messages.Message{ID: "m1", Text: "original text", SenderName: "alice", CreatedAt: time.Now()}
	ctx := Context{
		TargetMessage:  target,
		RecentMessages: []messages.Message{*target},
	}
	system, user := BuildReplyPrompt(ctx)
	require.Contains(t, system, "not as an assistant")
	require.Contains(t, user, "* [")
	require.Contains(t, user, "original text")
}
