package home

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/hibiki/proc"
)

const queuePageSize = 10

func buildQueuePages(queue []*proc.TrackInfo) []string {
	var pages []string
	var sb strings.Builder
	for i, t := range queue {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, proc.TrackLinked(t)))
		if (i+1)%queuePageSize == 0 {
			pages = append(pages, sb.String())
			sb.Reset()
		}
	}
	if sb.Len() > 0 {
		pages = append(pages, sb.String())
	}
	return pages
}

func queuePageButtons(page, pageCount int) discord.ActionRowComponent {
	prevBtn := discord.NewSecondaryButton("Prev", fmt.Sprintf("voice_queue:%d", page-1))
	if page <= 0 {
		prevBtn = prevBtn.AsDisabled()
	}
	nextBtn := discord.NewSecondaryButton("Next", fmt.Sprintf("voice_queue:%d", page+1))
	if page >= pageCount-1 {
		nextBtn = nextBtn.AsDisabled()
	}
	return discord.NewActionRow(prevBtn, nextBtn)
}

func handleVoiceQueue(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	current, queue, populating := voiceSession(event).QueueSnapshot()
	pages := buildQueuePages(queue)

	msg := proc.MsgQueuePage(0, pages, len(queue), current, populating)
	builder := discord.NewMessageCreate().WithEmbeds(msg.Embed)
	if len(pages) > 1 {
		builder = builder.WithComponents(queuePageButtons(0, len(pages)))
	}
	_ = event.CreateMessage(builder)
}

// handleVoiceQueuePage re-renders the queue embed when a paging button is
// pressed. The queue is re-read, so the page may shift if songs were consumed
// since the message was posted.
func handleVoiceQueuePage(event *events.ComponentInteractionCreate) {
	if event.GuildID() == nil {
		return
	}

	page, err := strconv.Atoi(strings.TrimPrefix(event.Data.CustomID(), "voice_queue:"))
	if err != nil {
		return
	}

	sess := proc.GetVoiceManager().Session(*event.GuildID())
	current, queue, populating := sess.QueueSnapshot()
	pages := buildQueuePages(queue)

	if page < 0 {
		page = 0
	}
	if page >= len(pages) {
		page = len(pages) - 1
	}
	if page < 0 {
		page = 0
	}

	msg := proc.MsgQueuePage(page, pages, len(queue), current, populating)
	builder := discord.NewMessageUpdate().WithEmbeds(msg.Embed)
	if len(pages) > 1 {
		builder = builder.WithComponents(queuePageButtons(page, len(pages)))
	} else {
		builder = builder.WithComponents()
	}
	_ = event.UpdateMessage(builder)
}
