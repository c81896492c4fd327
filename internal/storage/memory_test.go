package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearcart/support-agents/internal/models"
)

func TestMemoryConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	conv := &models.Conversation{ID: "c1", UserID: "alice", Title: "New conversation"}
	require.NoError(t, store.CreateConversation(ctx, conv))
	assert.False(t, conv.CreatedAt.IsZero())

	got, err := store.GetConversationForUser(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)

	_, err = store.GetConversationForUser(ctx, "c1", "bob")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.CreateMessage(ctx, &models.Message{ID: "m1", ConversationID: "c1", Role: models.RoleUser, Content: "hi"}))
	require.NoError(t, store.CreateMessage(ctx, &models.Message{ID: "m2", ConversationID: "c1", Role: models.RoleAssistant, Content: "hello"}))

	msgs, err := store.GetMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content, "messages come back in append order")

	count, err := store.CountMessagesByRole(ctx, "c1", models.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	last, err := store.LatestMessage(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "m2", last.ID)

	require.NoError(t, store.UpsertSummary(ctx, &models.ConversationSummary{ConversationID: "c1", Summary: "s", MessageCount: 2}))

	require.NoError(t, store.DeleteConversation(ctx, "c1"))
	_, err = store.GetConversation(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
	msgs, err = store.GetMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, msgs, "delete cascades to messages")
	_, err = store.GetSummary(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound, "delete cascades to the summary")
}

func TestMemoryListConversationsOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	first := &models.Conversation{ID: "c1", UserID: "alice"}
	second := &models.Conversation{ID: "c2", UserID: "alice"}
	require.NoError(t, store.CreateConversation(ctx, first))
	require.NoError(t, store.CreateConversation(ctx, second))
	require.NoError(t, store.CreateConversation(ctx, &models.Conversation{ID: "c3", UserID: "bob"}))

	// Touching the older conversation moves it to the front
	first.UpdatedAt = time.Now().Add(time.Minute)

	convs, err := store.ListConversations(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "c1", convs[0].ID)

	convs, err = store.ListConversations(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestMemorySearchFAQMatchesTitleContentAndTags(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	store.PutFAQ(&models.FAQArticle{Slug: "a", Title: "Shipping times", Content: "Orders arrive in 3-5 days."})
	store.PutFAQ(&models.FAQArticle{Slug: "b", Title: "Warranty", Content: "One year coverage.", Tags: []string{"returns"}})

	articles, err := store.SearchFAQ(ctx, "shipping", 3)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "a", articles[0].Slug)

	articles, err = store.SearchFAQ(ctx, "returns", 3)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "b", articles[0].Slug)

	articles, err = store.SearchFAQ(ctx, "nothing matches", 3)
	require.NoError(t, err)
	assert.Empty(t, articles)
}

func TestMemoryPaymentUpdates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	store.PutPayment(&models.Payment{ID: "p1", TransactionID: "TXN-1", UserID: "alice", Status: models.PaymentCompleted})

	require.NoError(t, store.UpdatePaymentRefund(ctx, "p1", models.PaymentRefunded, "completed"))
	payment, err := store.GetPaymentByTransactionID(ctx, "TXN-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, payment.Status)
	assert.Equal(t, "completed", payment.RefundStatus)

	assert.ErrorIs(t, store.UpdatePaymentRefund(ctx, "missing", models.PaymentRefunded, ""), ErrNotFound)
}
