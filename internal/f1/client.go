// Package f1 fetches race weekend data, either live from an OpenF1-style API
// or from the edge cache worker that serves pre-assembled snapshots.
package f1

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
)

// ErrUpstream is returned when the race data provider is unreachable or
// responds with malformed data. Wraps the underlying cause.
var ErrUpstream = errors.New("race data provider unavailable")

// ErrNoUpcomingRace is returned when the season has no further meetings.
var ErrNoUpcomingRace = errors.New("no upcoming race weekend found")

const breakerName = "f1-provider"

// Config configures a Client.
type Config struct {
	APIBase  string
	CacheURL string
	UseCache bool
	Timeout  time.Duration
}

// Client fetches race weekend snapshots. All fetches run through a circuit
// breaker so a flapping provider fails fast instead of piling up requests.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*RaceWeekend]
	now        func() time.Time
}

// NewClient creates a race data client from the provided configuration.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[*RaceWeekend](gobreaker.Settings{
			Name:    breakerName,
			Timeout: 30 * time.Second,
		}),
		now: time.Now,
	}
}

// NextRaceWeekend returns a snapshot of the next race weekend. Breaker-open,
// transport and decode failures all wrap ErrUpstream.
func (c *Client) NextRaceWeekend(ctx context.Context) (*RaceWeekend, error) {
	rw, err := c.breaker.Execute(func() (*RaceWeekend, error) {
		if c.cfg.UseCache {
			return c.fetchCached(ctx)
		}
		return c.fetchLive(ctx)
	})
	if err != nil {
		if errors.Is(err, ErrNoUpcomingRace) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return rw, nil
}

// fetchCached pulls a pre-assembled snapshot (with data_hash) from the edge
// cache worker.
func (c *Client) fetchCached(ctx context.Context) (*RaceWeekend, error) {
	body, err := c.get(ctx, c.cfg.CacheURL+"/next")
	if err != nil {
		return nil, err
	}

	var rw RaceWeekend
	if err := json.Unmarshal(body, &rw); err != nil {
		return nil, fmt.Errorf("parsing cached snapshot: %w", err)
	}
	if rw.RaceName == "" {
		return nil, errors.New("cached snapshot missing race name")
	}
	return &rw, nil
}

// fetchLive assembles a snapshot from the meetings, sessions and weather
// endpoints of the public API.
func (c *Client) fetchLive(ctx context.Context) (*RaceWeekend, error) {
	year := c.now().Year()

	meeting, err := c.nextMeeting(ctx, year)
	if errors.Is(err, ErrNoUpcomingRace) {
		// Season rollover: the last meeting of the year may already be done
		// while next year's calendar is published.
		meeting, err = c.nextMeeting(ctx, year+1)
	}
	if err != nil {
		return nil, err
	}

	sessions, err := c.sessions(ctx, meeting.MeetingKey)
	if err != nil {
		return nil, err
	}
	meeting.Sessions = sessions

	// Weather is best-effort; a missing reading degrades narration, it does
	// not fail the snapshot.
	meeting.Weather, _ = c.weather(ctx, meeting.MeetingKey)

	meeting.DataHash = Fingerprint(meeting)
	return meeting, nil
}

func (c *Client) nextMeeting(ctx context.Context, year int) (*RaceWeekend, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/meetings?year=%d", c.cfg.APIBase, year))
	if err != nil {
		return nil, err
	}

	var meetings []RaceWeekend
	if err := json.Unmarshal(body, &meetings); err != nil {
		return nil, fmt.Errorf("parsing meetings: %w", err)
	}

	sort.Slice(meetings, func(i, j int) bool {
		return meetings[i].Start.Before(meetings[j].Start)
	})

	// The weekend counts as upcoming until two days after lights out, so a
	// Sunday refresh still narrates the current race.
	cutoff := c.now().Add(-48 * time.Hour)
	for i := range meetings {
		if meetings[i].Start.After(cutoff) {
			m := meetings[i]
			return &m, nil
		}
	}
	return nil, ErrNoUpcomingRace
}

func (c *Client) sessions(ctx context.Context, meetingKey int) ([]Session, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/sessions?meeting_key=%d", c.cfg.APIBase, meetingKey))
	if err != nil {
		return nil, err
	}

	var sessions []Session
	if err := json.Unmarshal(body, &sessions); err != nil {
		return nil, fmt.Errorf("parsing sessions: %w", err)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Start.Before(sessions[j].Start)
	})
	return sessions, nil
}

func (c *Client) weather(ctx context.Context, meetingKey int) (*Weather, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/weather?meeting_key=%d", c.cfg.APIBase, meetingKey))
	if err != nil {
		return nil, err
	}

	var readings []Weather
	if err := json.Unmarshal(body, &readings); err != nil {
		return nil, fmt.Errorf("parsing weather: %w", err)
	}
	if len(readings) == 0 {
		return nil, nil
	}
	// Latest reading wins.
	return &readings[len(readings)-1], nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("invalid provider URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}
