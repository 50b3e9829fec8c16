package home

import (
	"context"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/hibiki/proc"
)

func handleVoiceStop(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	if _, ok := userVoiceChannel(event); !ok {
		replyEmbed(event, proc.MsgNotInVoiceChannel(), true)
		return
	}
	replyEmbed(event, voiceSession(event).Disconnect(context.Background()), false)
}
