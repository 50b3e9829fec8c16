package home

import (
	"context"
	"sync"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/hibiki/proc"
	"github.com/leeineian/hibiki/sys"
	"golang.org/x/time/rate"
)

// interactionUpdater edits a deferred interaction response with progress
// embeds. Pushes are coalesced through a rate limiter so Discord sees at most
// one edit per interval, always carrying the latest state. Finish sends the
// terminal embed exactly once, always as the last edit; pushes after that are
// dropped.
type interactionUpdater struct {
	user    discord.User
	limiter *rate.Limiter
	editFn  func(discord.Embed)

	mu      sync.Mutex
	pending *discord.Embed
	editing bool
	done    bool

	// editMu serializes the actual edits so the terminal one lands last
	editMu sync.Mutex
}

func newUpdater(event *events.ApplicationCommandInteractionCreate) *interactionUpdater {
	client := *event.Client()
	appID := event.ApplicationID()
	token := event.Token()

	return &interactionUpdater{
		user:    event.User(),
		limiter: rate.NewLimiter(rate.Every(1500*time.Millisecond), 1),
		editFn: func(embed discord.Embed) {
			_, err := client.Rest.UpdateInteractionResponse(appID, token, discord.NewMessageUpdate().
				WithEmbeds(embed))
			if err != nil {
				sys.LogWarn("Failed to edit interaction response: %v", err)
			}
		},
	}
}

// Push queues an intermediate embed. Later pushes replace earlier unsent ones.
func (u *interactionUpdater) Push(m proc.FormattedMessage) {
	u.mu.Lock()
	if u.done {
		u.mu.Unlock()
		return
	}
	embed := m.Embed
	u.pending = &embed
	if u.editing {
		u.mu.Unlock()
		return
	}
	u.editing = true
	u.mu.Unlock()

	sys.SafeGo(u.flush)
}

func (u *interactionUpdater) flush() {
	for {
		if err := u.limiter.Wait(context.Background()); err != nil {
			return
		}

		u.mu.Lock()
		if u.done || u.pending == nil {
			u.editing = false
			u.mu.Unlock()
			return
		}
		embed := *u.pending
		u.pending = nil
		u.mu.Unlock()

		u.editMu.Lock()
		u.mu.Lock()
		stale := u.done
		u.mu.Unlock()
		if !stale {
			u.editFn(embed)
		}
		u.editMu.Unlock()

		u.mu.Lock()
		if u.done || u.pending == nil {
			u.editing = false
			u.mu.Unlock()
			return
		}
		u.mu.Unlock()
	}
}

// Finish sends the terminal embed, tagged with the requesting user, and shuts
// the updater down. It waits for any in-flight progress edit first.
func (u *interactionUpdater) Finish(m proc.FormattedMessage) {
	u.mu.Lock()
	if u.done {
		u.mu.Unlock()
		return
	}
	u.done = true
	u.pending = nil
	u.mu.Unlock()

	embed := m.Embed
	if embed.Footer == nil {
		embed.Footer = &discord.EmbedFooter{Text: "Requested by " + u.user.EffectiveName()}
	}

	u.editMu.Lock()
	u.editFn(embed)
	u.editMu.Unlock()
}
