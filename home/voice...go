package home

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/hibiki/proc"
	"github.com/leeineian/hibiki/sys"
)

func init() {
	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "voice",
		Description: "Voice System",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Play a song or playlist",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "query",
						Description:  "The URL or song name to play",
						Required:     true,
						Autocomplete: true,
					},
					discord.ApplicationCommandOptionBool{
						Name:        "shuffle",
						Description: "Shuffle the playlist before enqueueing",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skip",
				Description: "Skip the current song",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "next",
				Description: "Show or set the upcoming song",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "query",
						Description:  "The URL or song name to play next",
						Required:     false,
						Autocomplete: true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "queue",
				Description: "Show the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "shuffle",
				Description: "Shuffle the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "clear",
				Description: "Clear the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stop",
				Description: "Stop playback and leave the channel",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "autoplay",
				Description: "Show or toggle autoplay",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "enabled",
						Description: "Keep playing related songs when the queue runs out",
						Required:    false,
					},
				},
			},
		},
	}, func(event *events.ApplicationCommandInteractionCreate) {
		data := event.SlashCommandInteractionData()
		if data.SubCommandName == nil || event.GuildID() == nil {
			return
		}

		switch *data.SubCommandName {
		case "play":
			handleVoicePlay(event, data)
		case "skip":
			handleVoiceSkip(event, data)
		case "next":
			handleVoiceNext(event, data)
		case "queue":
			handleVoiceQueue(event, data)
		case "shuffle":
			handleVoiceShuffle(event, data)
		case "clear":
			handleVoiceClear(event, data)
		case "stop":
			handleVoiceStop(event, data)
		case "autoplay":
			handleVoiceAutoplay(event, data)
		}
	})

	sys.RegisterAutocompleteHandler("voice", handleVoiceAutocomplete)
	sys.RegisterComponentHandler("voice_queue:", handleVoiceQueuePage)
}

// userVoiceChannel returns the channel the invoking user currently sits in.
func userVoiceChannel(event *events.ApplicationCommandInteractionCreate) (snowflake.ID, bool) {
	if event.GuildID() == nil {
		return 0, false
	}
	voiceState, ok := event.Client().Caches.VoiceState(*event.GuildID(), event.User().ID)
	if !ok || voiceState.ChannelID == nil {
		return 0, false
	}
	return *voiceState.ChannelID, true
}

func voiceSession(event *events.ApplicationCommandInteractionCreate) *proc.VoiceSession {
	return proc.GetVoiceManager().Session(*event.GuildID())
}

func replyEmbed(event *events.ApplicationCommandInteractionCreate, m proc.FormattedMessage, ephemeral bool) {
	_ = event.CreateMessage(discord.NewMessageCreate().
		WithEmbeds(m.Embed).
		WithEphemeral(ephemeral))
}
