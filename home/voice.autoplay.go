package home

import (
	"context"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/hibiki/proc"
)

// handleVoiceAutoplay reports the current autoplay state, or toggles it when
// the option is supplied.
func handleVoiceAutoplay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	sess := voiceSession(event)

	enabled, hasOption := data.OptBool("enabled")
	if !hasOption {
		replyEmbed(event, proc.MsgAutoplayIsCurrently(sess.Autoplay()), false)
		return
	}

	if _, ok := userVoiceChannel(event); !ok {
		replyEmbed(event, proc.MsgNotInVoiceChannel(), true)
		return
	}
	replyEmbed(event, sess.SetAutoplay(context.Background(), enabled), false)
}
