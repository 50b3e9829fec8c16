package home

import (
	"context"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/hibiki/proc"
)

// handleVoiceNext shows the upcoming song, or with a query resolves it to a
// single track and puts it at the front of the queue.
func handleVoiceNext(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	query, hasQuery := data.OptString("query")

	if !hasQuery || query == "" {
		_, queue, _ := voiceSession(event).QueueSnapshot()
		if len(queue) == 0 {
			replyEmbed(event, proc.MsgNoNextSong(), false)
			return
		}
		replyEmbed(event, proc.MsgNextSongQueued(queue[0]), false)
		return
	}

	if _, ok := userVoiceChannel(event); !ok {
		replyEmbed(event, proc.MsgNotInVoiceChannel(), true)
		return
	}

	_ = event.DeferCreateMessage(false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	msg := voiceSession(event).SetNext(ctx, query)

	_, _ = event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.NewMessageUpdate().
		WithEmbeds(msg.Embed))
}
