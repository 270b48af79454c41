package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"dmchat/internal/api"
	"dmchat/internal/auth"
	"dmchat/internal/client"
	"dmchat/internal/models"

	"github.com/stretchr/testify/require"
)

const integrationSecret = "very-secure-test-secret"

func waitForServer(t *testing.T, url string, attempts int) {
	t.Helper()
	for range attempts {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server at %s did not start", url)
}

func assertionFor(t *testing.T, id models.Identity) string {
	t.Helper()
	svc, err := auth.NewService(context.Background(), auth.Config{
		Secret: base64.StdEncoding.EncodeToString([]byte(integrationSecret)),
	})
	require.NoError(t, err)
	a, err := svc.Sign(id, time.Now())
	require.NoError(t, err)
	return a
}

func TestIntegration(t *testing.T) {
	adminAddr := "127.0.0.1:18888"
	apiAddr := "127.0.0.1:18887"
	baseURL := "http://" + apiAddr

	t.Setenv("DMCHAT_CONFIG", "")
	t.Setenv("DMCHAT_DB", filepath.Join(t.TempDir(), "integration_test.db"))
	t.Setenv("ADMIN_ADDR", adminAddr)
	t.Setenv("API_ADDR", apiAddr)
	t.Setenv("IDENTITY_SECRET", integrationSecret)
	t.Setenv("VAPID_PUBLIC_KEY", "")
	t.Setenv("VAPID_PRIVATE_KEY", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, nil)
	}()
	defer func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	}()

	waitForServer(t, fmt.Sprintf("http://%s/admin/users", adminAddr), 50)

	// Step 1: The identity provider announces Bob through the admin API.
	body, _ := json.Marshal(models.Identity{ID: "b1", Email: "bob@example.com", Name: "Bob"})
	resp, err := http.Post(fmt.Sprintf("http://%s/admin/users", adminAddr), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var syncResp api.SyncUserResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&syncResp))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "b1", syncResp.UserID)

	// Step 2: Unauthenticated calls are rejected.
	resp, err = http.Get(baseURL + "/api/conversations")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Step 3: Alice logs in and opens the live connection.
	alice := client.NewRemote(baseURL, nil)
	me, err := alice.Login(ctx, assertionFor(t, models.Identity{ID: "a1", Email: "alice@example.com", Name: "Alice"}))
	require.NoError(t, err)
	require.Equal(t, "a1", me.ID)

	require.NoError(t, alice.Dial(ctx))
	updates := make(chan models.ServerMessage, 64)
	go func() {
		_ = alice.Listen(ctx, func(msg models.ServerMessage) { updates <- msg })
	}()
	require.NoError(t, alice.Live(ctx, models.ClientMessage{
		Type:  models.ClientMessageTypeSubscribe,
		Query: models.ServerMessageTypeConversations,
	}))

	next := func(typ models.ServerMessageType, match func(models.ServerMessage) bool) models.ServerMessage {
		t.Helper()
		timeout := time.After(3 * time.Second)
		for {
			select {
			case msg := <-updates:
				if msg.Type == typ && match(msg) {
					return msg
				}
			case <-timeout:
				t.Fatalf("no %s update", typ)
			}
		}
	}
	next(models.ServerMessageTypeConversations, func(m models.ServerMessage) bool { return len(m.Conversations) == 0 })

	// Step 4: Search and start a conversation.
	found, err := alice.SearchUsers(ctx, "BOB")
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "b1", found[0].ID)

	empty, err := alice.SearchUsers(ctx, "nobody-here")
	require.NoError(t, err)
	require.Empty(t, empty)

	convID, err := alice.StartConversation(ctx, "b1")
	require.NoError(t, err)
	again, err := alice.StartConversation(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, convID, again)

	_, err = alice.StartConversation(ctx, "a1")
	require.Equal(t, models.CodeInvalidArgument, models.CodeOf(err))

	list := next(models.ServerMessageTypeConversations, func(m models.ServerMessage) bool { return len(m.Conversations) == 1 })
	require.Equal(t, "Bob", list.Conversations[0].ParticipantName)
	require.Equal(t, models.NoMessagesPlaceholder, list.Conversations[0].LastMessage)

	require.NoError(t, alice.Live(ctx, models.ClientMessage{
		Type:           models.ClientMessageTypeSubscribe,
		Query:          models.ServerMessageTypeMessages,
		ConversationID: convID,
	}))

	// Step 5: Alice says hi; her live view and Bob's counters follow.
	_, err = alice.SendMessage(ctx, convID, "hi")
	require.NoError(t, err)
	_, err = alice.SendMessage(ctx, convID, "   ")
	require.Equal(t, models.CodeInvalidArgument, models.CodeOf(err))

	live := next(models.ServerMessageTypeMessages, func(m models.ServerMessage) bool { return len(m.Messages) == 1 })
	require.Equal(t, "hi", live.Messages[0].Content)

	bob := client.NewRemote(baseURL, nil)
	_, err = bob.Login(ctx, assertionFor(t, models.Identity{ID: "b1", Email: "bob@example.com", Name: "Bob"}))
	require.NoError(t, err)

	bobList, err := bob.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, bobList, 1)
	require.Equal(t, 1, bobList[0].UnreadCount)
	require.Equal(t, "hi", bobList[0].LastMessage)
	require.True(t, bobList[0].ParticipantOnline)

	// Step 6: Bob types, replies and reads.
	require.NoError(t, bob.SetTyping(ctx, convID, true))
	_, err = bob.SendMessage(ctx, convID, "hello")
	require.NoError(t, err)
	require.NoError(t, bob.MarkRead(ctx, convID))
	require.NoError(t, bob.MarkRead(ctx, convID))

	msgs, err := alice.Messages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "hi", msgs[0].Content)
	require.Equal(t, "hello", msgs[1].Content)

	aliceList := next(models.ServerMessageTypeConversations, func(m models.ServerMessage) bool {
		return len(m.Conversations) == 1 && m.Conversations[0].LastMessage == "hello"
	})
	require.Equal(t, 1, aliceList.Conversations[0].UnreadCount)

	bobList, err = bob.ListConversations(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, bobList[0].UnreadCount)

	// Step 7: Carol is not part of the conversation.
	carol := client.NewRemote(baseURL, nil)
	_, err = carol.Login(ctx, assertionFor(t, models.Identity{ID: "c1", Email: "carol@example.com", Name: "Carol"}))
	require.NoError(t, err)
	_, err = carol.SendMessage(ctx, convID, "let me in")
	require.Equal(t, models.CodePermissionDenied, models.CodeOf(err))
	_, err = carol.Messages(ctx, convID)
	require.Equal(t, models.CodePermissionDenied, models.CodeOf(err))
	_, err = carol.SendMessage(ctx, "missing", "hello?")
	require.Equal(t, models.CodeNotFound, models.CodeOf(err))
}
