package slack

import (
	"fmt"

	"github.com/chatbridge/core/pkg/router"
)

// DecodeInboundUpdate turns a Slack Events API / interactivity payload
// (already decoded to a generic map by the webhook handler) into the
// Router's normalized InboundUpdate. Two shapes are recognized: an
// event_callback envelope (regular messages) and an interactive payload
// carrying callback actions (button presses), matched by field presence
// rather than a "type" discriminator since Slack uses different envelopes
// for each.
func DecodeInboundUpdate(raw map[string]interface{}) (router.InboundUpdate, error) {
	if actions, ok := raw["actions"].([]interface{}); ok && len(actions) > 0 {
		return decodeInteractive(raw, actions)
	}
	if event, ok := raw["event"].(map[string]interface{}); ok {
		return decodeMessageEvent(event)
	}
	return router.InboundUpdate{}, fmt.Errorf("slack: unrecognized webhook payload shape")
}

func decodeMessageEvent(event map[string]interface{}) (router.InboundUpdate, error) {
	channel, _ := event["channel"].(string)
	user, _ := event["user"].(string)
	text, _ := event["text"].(string)
	if channel == "" || user == "" {
		return router.InboundUpdate{}, fmt.Errorf("slack: message event missing channel/user")
	}

	threadID, _ := event["thread_ts"].(string)
	channelType, _ := event["channel_type"].(string)

	return router.InboundUpdate{
		ChatID:        channel,
		UserID:        user,
		ThreadID:      threadID,
		Text:          text,
		IsPrivateChat: channelType == "im",
	}, nil
}

func decodeInteractive(raw map[string]interface{}, actions []interface{}) (router.InboundUpdate, error) {
	user, _ := raw["user"].(map[string]interface{})
	userID, _ := user["id"].(string)

	channel, _ := raw["channel"].(map[string]interface{})
	channelID, _ := channel["id"].(string)

	action, _ := actions[0].(map[string]interface{})
	callbackData, _ := action["value"].(string)

	if channelID == "" || userID == "" {
		return router.InboundUpdate{}, fmt.Errorf("slack: interactive payload missing channel/user")
	}

	return router.InboundUpdate{
		ChatID:       channelID,
		UserID:       userID,
		CallbackData: callbackData,
	}, nil
}
