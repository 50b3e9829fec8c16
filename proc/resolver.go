package proc

import (
	"context"
	"errors"
	"time"

	"github.com/leeineian/hibiki/sys"
)

// ErrNotPlaylist is returned by PlaylistClient implementations when the query
// does not reference a playlist at all.
var ErrNotPlaylist = errors.New("query is not a playlist")

// TrackInfo describes a single playable track.
type TrackInfo struct {
	ID        string
	Title     string
	Channel   string
	Thumbnail string
	Duration  time.Duration
}

func (t *TrackInfo) WatchURL() string {
	return "https://www.youtube.com/watch?v=" + t.ID
}

// MetadataClient resolves a direct query (URL or identifier) to track metadata.
type MetadataClient interface {
	FetchTrack(ctx context.Context, query string) (*TrackInfo, error)
}

// PlaylistClient expands a playlist query into its track identifiers.
// It returns ErrNotPlaylist when the query does not name a playlist.
type PlaylistClient interface {
	ExpandPlaylist(ctx context.Context, query string) ([]string, error)
}

// SearchClient runs a free-text search returning ranked candidates.
// Implementations exclude live broadcasts.
type SearchClient interface {
	Search(ctx context.Context, query string) ([]TrackInfo, error)
}

// TrackResolver turns a user query into a list of track identifiers,
// reporting intermediate status while a slow search runs.
type TrackResolver struct {
	Metadata  MetadataClient
	Playlists PlaylistClient
	Searcher  SearchClient
}

func NewTrackResolver(metadata MetadataClient, playlists PlaylistClient, searcher SearchClient) *TrackResolver {
	return &TrackResolver{
		Metadata:  metadata,
		Playlists: playlists,
		Searcher:  searcher,
	}
}

// Resolve expands the query to track identifiers. Playlists yield every
// contained id, direct queries yield one id, and anything else falls back to
// a search whose top candidate wins. An empty result signals total failure;
// the future never errors.
func (r *TrackResolver) Resolve(ctx context.Context, query string) *Future[FormattedMessage, []string] {
	return NewFuture(func(emit func(FormattedMessage)) []string {
		ids, err := r.Playlists.ExpandPlaylist(ctx, query)
		if err == nil && len(ids) > 0 {
			sys.LogVoice("Resolved playlist with %d tracks", len(ids))
			return ids
		}
		if err != nil && !errors.Is(err, ErrNotPlaylist) {
			sys.LogVoice("Playlist expansion failed: %v", err)
		}

		if track, err := r.Metadata.FetchTrack(ctx, query); err == nil && track != nil {
			return []string{track.ID}
		}

		emit(MsgSearching(query))

		candidates, err := r.Searcher.Search(ctx, query)
		if err != nil || len(candidates) == 0 {
			sys.LogVoice("Search found nothing for %q", query)
			return nil
		}

		top := candidates[0]
		track, err := r.Metadata.FetchTrack(ctx, top.WatchURL())
		if err != nil || track == nil {
			sys.LogVoice("Metadata fetch failed for search result %s: %v", top.ID, err)
			return nil
		}
		return []string{track.ID}
	})
}
