package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimd54/guild-quest-board/internal/config"
	"github.com/aimd54/guild-quest-board/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New("error", "console", "stderr")
}

func TestNotifyPostsPayload(t *testing.T) {
	var received Message
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(&config.NotifierConfig{
		WebhookURL: server.URL,
		Username:   "Quest Board",
		Enabled:    true,
	}, testLogger())

	client.Notify(context.Background(), Payload{
		GuildID:    10,
		ChannelID:  104,
		QuestID:    "abcd1234",
		QuestTitle: "Slay the Dragon",
		UserID:     2,
		ActorID:    2,
		Action:     "accept",
		Outcome:    "accepted",
	})

	assert.Equal(t, "Quest Board", received.Username)
	assert.Equal(t, "104", received.Channel)
	require.NotNil(t, received.Payload)
	assert.Equal(t, "abcd1234", received.Payload.QuestID)
	assert.Equal(t, "accept", received.Payload.Action)
	assert.Contains(t, received.Text, "Slay the Dragon")
}

func TestNotifyDisabledSkipsDelivery(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(&config.NotifierConfig{
		WebhookURL: server.URL,
		Enabled:    false,
	}, testLogger())

	client.Notify(context.Background(), Payload{QuestID: "abcd1234", Action: "accept"})
	assert.Equal(t, int32(0), calls.Load())
}

func TestNotifyToleratesDeliveryFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(&config.NotifierConfig{
		WebhookURL: server.URL,
		Enabled:    true,
	}, testLogger())

	// Must not panic or propagate; failures are logged and counted.
	client.Notify(context.Background(), Payload{QuestID: "abcd1234", Action: "submit"})
}

func TestRenderTextPerAction(t *testing.T) {
	p := Payload{QuestID: "abcd1234", QuestTitle: "Slay the Dragon", UserID: 2}

	p.Action = "create"
	assert.Contains(t, renderText(p), "abcd1234")

	p.Action = "submit"
	p.ProofText = "brought the scale"
	p.ProofURLs = []string{"https://img.example/scale.png"}
	text := renderText(p)
	assert.Contains(t, text, "brought the scale")
	assert.Contains(t, text, "https://img.example/scale.png")

	p.Action = "reject"
	assert.Contains(t, renderText(p), "try again")
}
