package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/leeineian/hibiki/sys"
	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// newYtdlp returns a new yt-dlp command with shared defaults.
func newYtdlp() *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings()

	if proxy := os.Getenv("YOUTUBE_PROXY"); proxy != "" {
		cmd.Proxy(proxy)
	}

	return cmd
}

func buildYtdlpArgs() []string {
	return []string{
		"--no-check-certificates",
		"--no-warnings",
		"--socket-timeout", "30",
		"--retries", "20",
		"--fragment-retries", "20",
	}
}

// YtdlpClient resolves metadata, expands playlists, downloads audio and
// finds related tracks through the yt-dlp CLI.
type YtdlpClient struct{}

func NewYtdlpClient() *YtdlpClient {
	return &YtdlpClient{}
}

func isDirectQuery(query string) bool {
	return strings.HasPrefix(query, "http") || videoIDPattern.MatchString(query)
}

func (c *YtdlpClient) FetchTrack(ctx context.Context, query string) (*TrackInfo, error) {
	if !isDirectQuery(query) {
		return nil, errors.New("not a direct query")
	}

	query = strings.Replace(query, "music.youtube.com", "www.youtube.com", 1)

	args := append(buildYtdlpArgs(), "--no-playlist", "--skip-download")
	res, err := newYtdlp().
		Print("%(id)s\t%(title)s\t%(channel,uploader)s\t%(duration)s\t%(thumbnail)s").
		IgnoreConfig().
		Run(ctx, append(args, query)...)
	if err != nil {
		return nil, err
	}

	for _, l := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		ps := strings.Split(l, "\t")
		if len(ps) < 5 || ps[0] == "" || ps[0] == "NA" {
			continue
		}
		d, _ := time.ParseDuration(ps[3] + "s")
		return &TrackInfo{
			ID:        ps[0],
			Title:     ps[1],
			Channel:   ps[2],
			Duration:  d,
			Thumbnail: ps[4],
		}, nil
	}
	return nil, errors.New("failed to parse metadata")
}

func (c *YtdlpClient) ExpandPlaylist(ctx context.Context, query string) ([]string, error) {
	if !strings.Contains(query, "list=") {
		return nil, ErrNotPlaylist
	}

	args := buildYtdlpArgs()
	res, err := newYtdlp().
		FlatPlaylist().
		Print("%(id)s").
		PlaylistItems("1-100").
		IgnoreConfig().
		Run(ctx, append(args, query, "--yes-playlist")...)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp playlist failed: %w", err)
	}

	var ids []string
	for _, l := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		id := strings.TrimSpace(l)
		if id != "" && id != "NA" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, ErrNotPlaylist
	}
	return ids, nil
}

func (c *YtdlpClient) Download(ctx context.Context, id, destPath string, progress func(int)) error {
	args := append(buildYtdlpArgs(), "--no-playlist")
	_, err := newYtdlp().
		Format("bestaudio[ext=m4a]/bestaudio/best").
		Output(destPath).
		NoPart().
		ProgressFunc(500*time.Millisecond, func(update ytdlp.ProgressUpdate) {
			progress(int(update.Percent()))
		}).
		IgnoreConfig().
		Run(ctx, append(args, "https://www.youtube.com/watch?v="+id)...)
	return err
}

// Related finds a track to keep playback going once the queue runs dry. It
// walks the video's mix playlist first, then falls back to a title search.
func (c *YtdlpClient) Related(ctx context.Context, t *TrackInfo, exclude []string) (*TrackInfo, error) {
	excluded := func(id string) bool {
		if id == t.ID {
			return true
		}
		for _, e := range exclude {
			if e == id {
				return true
			}
		}
		return false
	}

	mixURL := "https://www.youtube.com/watch?v=" + t.ID + "&list=RD" + t.ID
	if ids, err := c.ExpandPlaylist(ctx, mixURL); err == nil {
		for _, id := range ids {
			if !excluded(id) {
				return c.FetchTrack(ctx, id)
			}
		}
	}

	sys.LogVoice("Mix lookup empty for %s, falling back to search", t.ID)

	query := t.Title
	if t.Channel != "" {
		query += " " + t.Channel
	}
	client := ytsearch.NewClient(nil)
	res, err := client.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	for _, r := range res.Results {
		if r.VideoID != "" && !excluded(r.VideoID) {
			return c.FetchTrack(ctx, "https://www.youtube.com/watch?v="+r.VideoID)
		}
	}
	return nil, errors.New("no related track found")
}

// YtsearchClient is the free-text search fallback. Live broadcasts carry no
// duration and are skipped.
type YtsearchClient struct{}

func NewYtsearchClient() *YtsearchClient {
	return &YtsearchClient{}
}

func (c *YtsearchClient) Search(ctx context.Context, query string) ([]TrackInfo, error) {
	client := ytsearch.NewClient(nil)
	res, err := client.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	var out []TrackInfo
	for _, r := range res.Results {
		if r.VideoID == "" {
			continue
		}
		d := parseClockDuration(r.Duration)
		if d == 0 {
			continue
		}
		out = append(out, TrackInfo{
			ID:       r.VideoID,
			Title:    r.Title,
			Channel:  r.Channel,
			Duration: d,
		})
	}
	return out, nil
}

// parseClockDuration parses "h:mm:ss" or "m:ss" style durations.
func parseClockDuration(s string) time.Duration {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) == 0 || len(parts) > 3 {
		return 0
	}
	total := 0
	for _, p := range parts {
		var n int
		if _, err := fmt.Sscanf(p, "%d", &n); err != nil {
			return 0
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second
}
