package home

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/hibiki/proc"
)

func handleVoiceSkip(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	if _, ok := userVoiceChannel(event); !ok {
		replyEmbed(event, proc.MsgNotInVoiceChannel(), true)
		return
	}
	replyEmbed(event, voiceSession(event).Skip(), false)
}

func handleVoiceShuffle(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	if _, ok := userVoiceChannel(event); !ok {
		replyEmbed(event, proc.MsgNotInVoiceChannel(), true)
		return
	}
	replyEmbed(event, voiceSession(event).Shuffle(), false)
}

func handleVoiceClear(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	if _, ok := userVoiceChannel(event); !ok {
		replyEmbed(event, proc.MsgNotInVoiceChannel(), true)
		return
	}
	replyEmbed(event, voiceSession(event).Clear(), false)
}
