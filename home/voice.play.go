package home

import (
	"context"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/hibiki/proc"
	"github.com/leeineian/hibiki/sys"
	"github.com/raitonoberu/ytmusic"
)

// playTimeout bounds how long a single request may resolve and download
// before the user gets a timeout reply.
const playTimeout = 5 * time.Minute

func handleVoicePlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	query, _ := data.OptString("query")
	shuffle, _ := data.OptBool("shuffle")

	channelID, ok := userVoiceChannel(event)
	if !ok {
		replyEmbed(event, proc.MsgNotInVoiceChannel(), true)
		return
	}

	_ = event.DeferCreateMessage(false)

	sess := voiceSession(event)
	fut := sess.Play(context.Background(), channelID, query, shuffle)

	updater := newUpdater(event)
	fut.OnUpdate(updater.Push)

	waitCtx, cancel := context.WithTimeout(context.Background(), playTimeout)
	defer cancel()

	final, err := fut.Await(waitCtx)
	if err != nil {
		sys.LogVoice("Play timed out for query %q in guild %s", query, *event.GuildID())
		updater.Finish(proc.MsgProcessingTimeout())
		return
	}
	updater.Finish(final)
}

func handleVoiceAutocomplete(event *events.AutocompleteInteractionCreate) {
	focused := event.Data.Focused()
	if focused.Name != "query" {
		return
	}
	query := focused.String()
	if query == "" {
		_ = event.AutocompleteResult(nil)
		return
	}

	result, err := ytmusic.TrackSearch(query).Next()
	if err != nil {
		_ = event.AutocompleteResult(nil)
		return
	}

	var choices []discord.AutocompleteChoice
	for _, t := range result.Tracks {
		if len(choices) >= 25 || t.VideoID == "" {
			continue
		}
		name := t.Title
		if len(t.Artists) > 0 {
			name = t.Title + " - " + t.Artists[0].Name
		}
		if len(name) > 100 {
			name = name[:97] + "..."
		}
		// The video id round-trips as a direct query
		choices = append(choices, discord.AutocompleteChoiceString{
			Name:  name,
			Value: t.VideoID,
		})
	}
	_ = event.AutocompleteResult(choices)
}
