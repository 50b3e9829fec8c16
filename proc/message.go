package proc

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
)

// QueueProcessingHint is appended to queue footers while a playlist is still
// being expanded in the background.
const QueueProcessingHint = " - List might be incomplete due to processing playlist songs"

// FormattedMessage is a renderable reply from the playback layer. The command
// layer forwards these verbatim, so every user-visible wording lives here.
type FormattedMessage struct {
	Embed discord.Embed
}

func template() *discord.EmbedBuilder {
	now := time.Now()
	return discord.NewEmbedBuilder().
		SetColor(rand.Intn(0xFFFFFF + 1)).
		SetTimestamp(now)
}

func newMessage(b *discord.EmbedBuilder) FormattedMessage {
	return FormattedMessage{Embed: b.Build()}
}

// TrackLinked renders a track as a markdown link the way replies embed it.
func TrackLinked(t *TrackInfo) string {
	return fmt.Sprintf("[`%s - %s (%s)`](%s)", t.Title, t.Channel, formatDuration(t.Duration), t.WatchURL())
}

func formatDuration(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 0 {
		return "live"
	}
	if secs >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func MsgSearching(query string) FormattedMessage {
	return newMessage(template().
		AddField(fmt.Sprintf("Searching for `%s` on YouTube", query), "This may take a moment", false))
}

func MsgDownloading(t *TrackInfo, progress int) FormattedMessage {
	return newMessage(template().
		AddField("Downloading audio", fmt.Sprintf("%s\n\nProgress: %d%%", TrackLinked(t), progress), false))
}

func MsgAddedToQueue(t *TrackInfo, newlyAdded, queueSize int) FormattedMessage {
	detail := fmt.Sprintf("Queue size: %d", queueSize)
	if newlyAdded > 0 {
		detail = fmt.Sprintf("And %d more enqueued", newlyAdded)
	}
	return newMessage(template().
		AddField("Song added to the queue", fmt.Sprintf("%s\n\n%s", TrackLinked(t), detail), false))
}

func MsgNowPlaying(t *TrackInfo, additionalAdded int, channelID snowflake.ID) FormattedMessage {
	desc := TrackLinked(t)
	if additionalAdded > 0 {
		desc += fmt.Sprintf("\n\nAnd %d more added to the queue", additionalAdded)
	}
	desc += fmt.Sprintf("\n\nJoin <#%s> to listen", channelID)

	b := template().AddField("Now Playing", desc, false)
	if t.Thumbnail != "" {
		b.SetThumbnail(t.Thumbnail)
	}
	return newMessage(b)
}

func MsgNoResultsFound(query string) FormattedMessage {
	if query == "" {
		return newMessage(template().SetDescription("No results found"))
	}
	return newMessage(template().SetDescription(fmt.Sprintf("No results found for `%s`", query)))
}

func MsgProcessing() FormattedMessage {
	return newMessage(template().SetDescription("Already processing a request. Please wait..."))
}

func MsgNotInVoiceChannel() FormattedMessage {
	return newMessage(template().SetDescription("You must be in a voice channel to use this command"))
}

func MsgErrorDownloading(title string) FormattedMessage {
	return newMessage(template().
		AddField(fmt.Sprintf("Error downloading `%s`", title), "Please try again later", false))
}

func MsgSongSkipped(upcoming *TrackInfo) FormattedMessage {
	if upcoming == nil {
		return newMessage(template().AddField("Song skipped", "The queue is empty", false))
	}
	return newMessage(template().
		AddField("Song skipped", "Now playing: \n"+TrackLinked(upcoming), false))
}

func MsgQueueCleared() FormattedMessage {
	return newMessage(template().SetDescription("Queue cleared"))
}

func MsgQueuePage(page int, pages []string, queueCount int, current *TrackInfo, populating bool) FormattedMessage {
	b := template()
	if current != nil {
		b.AddField("Currently playing", TrackLinked(current), false)
	}

	if len(pages) == 0 {
		return newMessage(b.AddField("Queue is empty", "Nothing to show.", false))
	}

	footer := fmt.Sprintf("Page %d/%d", page+1, len(pages))
	if populating {
		footer += QueueProcessingHint
	}

	return newMessage(b.
		AddField(fmt.Sprintf("Queue (%d)", queueCount), pages[page], false).
		SetFooterText(footer))
}

func MsgNoNextSong() FormattedMessage {
	return newMessage(template().SetDescription("There is no upcoming song"))
}

func MsgDisconnecting() FormattedMessage {
	return newMessage(template().SetDescription("Disconnecting..."))
}

func MsgUnableToStartPlayback() FormattedMessage {
	return newMessage(template().SetDescription("Unable to start playback. Please try again later"))
}

func MsgNextSongQueued(t *TrackInfo) FormattedMessage {
	return newMessage(template().AddField("Song will play next", TrackLinked(t), false))
}

func MsgQueueShuffled(count int) FormattedMessage {
	return newMessage(template().SetDescription(fmt.Sprintf("Shuffled %d songs in the queue", count)))
}

func MsgAutoplayIsCurrently(enabled bool) FormattedMessage {
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return newMessage(template().SetDescription(fmt.Sprintf("Autoplay is currently `%s`", state)))
}

func MsgAutoplayToggled(enabled bool) FormattedMessage {
	state := "off"
	if enabled {
		state = "on"
	}
	return newMessage(template().SetDescription(fmt.Sprintf("Autoplay has been turned `%s`", state)))
}

func MsgProcessingTimeout() FormattedMessage {
	return newMessage(template().SetDescription("Processing timed out. Please try again later"))
}
