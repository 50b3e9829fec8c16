package home

import (
	"fmt"
	"runtime"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/hibiki/proc"
	"github.com/leeineian/hibiki/sys"
)

func init() {
	adminPerm := discord.PermissionAdministrator

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "stats",
		Description:              "Display system and playback statistics (Admin Only)",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
	}, handleStats)
}

func handleStats(event *events.ApplicationCommandInteractionCreate) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(sys.StartupTime)
	uptimeStr := fmt.Sprintf("%dd %dh %dm",
		int(uptime.Hours())/24, int(uptime.Hours())%24, int(uptime.Minutes())%60)

	dbStart := time.Now()
	_, _ = sys.GetBotConfig(sys.AppContext, "ping_test")
	dbLatency := float64(time.Since(dbStart).Microseconds()) / 1000.0

	roundTrip := time.Since(snowflake.ID(event.ID()).Time()).Milliseconds()

	vm := proc.GetVoiceManager()
	sessions, connected := vm.SessionStats()

	embed := discord.NewEmbedBuilder().
		SetTitle("Stats").
		SetColor(0xED4245).
		SetTimestamp(time.Now()).
		AddField("System", fmt.Sprintf(
			"Platform: %s %s\nGo: %s\nMemory: %.2f MB\nGoroutines: %d",
			runtime.GOOS, runtime.GOARCH, runtime.Version(),
			float64(m.HeapAlloc)/1024/1024, runtime.NumGoroutine()), true).
		AddField("App", fmt.Sprintf(
			"Uptime: %s\nGateway: %dms\nAPI: %dms\nDatabase: %.2fms",
			uptimeStr, event.Client().Gateway.Latency().Milliseconds(), roundTrip, dbLatency), true).
		AddField("Playback", fmt.Sprintf(
			"Sessions: %d\nConnected: %d\nCached tracks: %d",
			sessions, connected, vm.Cache().Count()), true).
		Build()

	_ = event.CreateMessage(discord.NewMessageCreate().
		WithEmbeds(embed).
		WithEphemeral(true))
}
