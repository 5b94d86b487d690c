package fetch_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DeafMist/city-pulse/internal/fetch"
	"github.com/DeafMist/city-pulse/internal/models"
	"github.com/stretchr/testify/require"
)

// idsFromSnapshot treats each comma separated token of the page as a post id.
func idsFromSnapshot(got *[]string) fetch.SnapshotFunc {
	return func(_ context.Context, snap *models.RawDocument) []string {
		*got = append(*got, snap.HTML)
		if snap.HTML == "" {
			return nil
		}
		return strings.Split(snap.HTML, ",")
	}
}

func TestTimelineStopsWhenNothingNew(t *testing.T) {
	session := &stubSession{snapshots: []string{"1,2", "2,3", "2,3"}}
	s := fetch.NewTimelineScroller(session, fetch.TimelineOptions{MaxScrolls: 10}, nil)

	var seen []string
	stats, err := s.Collect(context.Background(), idsFromSnapshot(&seen))
	require.NoError(t, err)
	require.Equal(t, 3, stats.Snapshots)
	require.Equal(t, 3, stats.UniqueIDs)
	require.Equal(t, "no new posts", stats.Reason)
	require.Equal(t, 2, session.scrolls)
}

func TestTimelineIdleRounds(t *testing.T) {
	session := &stubSession{snapshots: []string{"1", "1", "2", "2", "2"}}
	s := fetch.NewTimelineScroller(session, fetch.TimelineOptions{MaxScrolls: 10, IdleRounds: 2}, nil)

	var seen []string
	stats, err := s.Collect(context.Background(), idsFromSnapshot(&seen))
	require.NoError(t, err)
	require.Equal(t, 5, stats.Snapshots)
	require.Equal(t, 2, stats.UniqueIDs)
}

func TestTimelineBoundedByScrollCount(t *testing.T) {
	n := 0
	session := &stubSession{}
	session.snapshots = []string{"0"}
	session.onScroll = func() {
		n++
		session.snapshots = append(session.snapshots, strings.Repeat("x", n))
	}
	s := fetch.NewTimelineScroller(session, fetch.TimelineOptions{MaxScrolls: 4}, nil)

	var seen []string
	stats, err := s.Collect(context.Background(), idsFromSnapshot(&seen))
	require.NoError(t, err)
	require.Equal(t, "max scrolls", stats.Reason)
	require.Equal(t, 4, stats.Snapshots)
	require.Equal(t, []string{"0", "x", "xx", "xxx"}, seen)
}

func TestTimelineRequiresSignedInSession(t *testing.T) {
	session := &stubSession{
		snapshots: []string{"1"},
		waitErr:   map[string]error{fetch.SignedInSelector: errors.New("timeout")},
	}
	s := fetch.NewTimelineScroller(session, fetch.TimelineOptions{}, nil)

	_, err := s.Collect(context.Background(), func(context.Context, *models.RawDocument) []string {
		t.Fatal("snapshot consumed without a session")
		return nil
	})
	require.ErrorIs(t, err, fetch.ErrNotAuthenticated)
}

func TestTimelineHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	session := &stubSession{snapshots: []string{"1"}}
	session.onScroll = cancel
	s := fetch.NewTimelineScroller(session, fetch.TimelineOptions{MaxScrolls: 100, Pause: time.Hour}, nil)

	var seen []string
	_, err := s.Collect(ctx, idsFromSnapshot(&seen))
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, seen, 1)
}
