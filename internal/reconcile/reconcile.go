// Package reconcile implements the refresh pipeline: fetch the next race
// weekend, synthesize narration, converge the stored card state with the
// fresh content (create or update), and fan the result out to devices.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/tmcgrath/racebrief/internal/deploy"
	"github.com/tmcgrath/racebrief/internal/f1"
	"github.com/tmcgrath/racebrief/internal/metrics"
	"github.com/tmcgrath/racebrief/internal/narration"
	"github.com/tmcgrath/racebrief/internal/store"
	"github.com/tmcgrath/racebrief/internal/yoto"
)

// ErrUpdateRejected is returned when the backend refuses an in-place update
// for any reason other than the known legacy-content signal. The operation
// fails rather than silently creating a duplicate card.
var ErrUpdateRejected = errors.New("card update rejected by platform")

// TTS backend modes.
const (
	ModeStreaming = "streaming"
	ModeLabs      = "labs"
)

// PlatformAPI is the authorized platform surface the pipeline drives.
// *yoto.Client satisfies it.
type PlatformAPI interface {
	UploadIcon(ctx context.Context, png []byte) (string, error)
	UploadCoverImage(ctx context.Context, image []byte) (string, error)
	Synthesize(ctx context.Context, title, text, voiceID string) (string, error)
	SubmitTTSJob(ctx context.Context, title, voiceID string, chapters []yoto.TTSChapter) (string, error)
	WaitForTTSJob(ctx context.Context, jobID string, interval, maxWait time.Duration) (string, error)
	CreateCard(ctx context.Context, spec yoto.CardSpec) (string, error)
	UpdateCard(ctx context.Context, cardID string, spec yoto.CardSpec) (string, error)
	ListDevices(ctx context.Context) ([]yoto.Device, error)
	DeployCard(ctx context.Context, deviceID, cardID string) error
}

// TokenRefresher performs one OAuth refresh grant.
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// RaceData supplies race weekend snapshots.
type RaceData interface {
	NextRaceWeekend(ctx context.Context) (*f1.RaceWeekend, error)
}

// Attachment is the outcome of a best-effort side upload: either a usable
// reference or an explicit omission with its reason.
type Attachment struct {
	Ref     string
	Omitted bool
	Reason  string
}

// Result is the structured outcome of one refresh.
type Result struct {
	Success      bool            `json:"success"`
	NeedsReauth  bool            `json:"needsReauth"`
	Unchanged    bool            `json:"unchanged"`
	CardID       string          `json:"cardId,omitempty"`
	IsUpdate     bool            `json:"isUpdate"`
	RaceName     string          `json:"raceName,omitempty"`
	IconOmitted  bool            `json:"iconOmitted,omitempty"`
	CoverOmitted bool            `json:"coverOmitted,omitempty"`
	Deployment   *deploy.Summary `json:"deployment,omitempty"`
}

// Service orchestrates the refresh pipeline.
type Service struct {
	identity  *store.Identity
	refresher TokenRefresher
	platform  func(accessToken string) PlatformAPI
	data      RaceData
	metrics   *metrics.Metrics
	log       zerolog.Logger

	voiceID      string
	ttsMode      string
	pollInterval time.Duration
	maxWait      time.Duration
	iconPNG      []byte
	coverImage   []byte
}

// Option configures a Service.
type Option func(*Service)

// WithTTSMode selects the synthesis backend (streaming or labs).
func WithTTSMode(mode string) Option {
	return func(s *Service) { s.ttsMode = mode }
}

// WithPolling bounds the transcode/TTS-job polling loops.
func WithPolling(interval, maxWait time.Duration) Option {
	return func(s *Service) {
		s.pollInterval = interval
		s.maxWait = maxWait
	}
}

// WithArtwork sets the chapter icon and cover image bytes uploaded with each
// new card.
func WithArtwork(iconPNG, coverImage []byte) Option {
	return func(s *Service) {
		s.iconPNG = iconPNG
		s.coverImage = coverImage
	}
}

// WithMetrics attaches prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates the refresh service. platform authorizes a client for the given
// access token; the default wiring passes yoto.Client.WithToken.
func New(
	identity *store.Identity,
	refresher TokenRefresher,
	platform func(accessToken string) PlatformAPI,
	data RaceData,
	voiceID string,
	log zerolog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		identity:     identity,
		refresher:    refresher,
		platform:     platform,
		data:         data,
		voiceID:      voiceID,
		log:          log,
		ttsMode:      ModeStreaming,
		pollInterval: 2 * time.Second,
		maxWait:      2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh runs the whole pipeline once. trigger distinguishes manual from
// scheduled invocations for logging only. The identity record is written
// only after the full pipeline succeeds; any abort leaves it untouched.
func (s *Service) Refresh(ctx context.Context, trigger string) (*Result, error) {
	start := time.Now()
	log := s.log.With().Str("trigger", trigger).Logger()

	result, err := s.refresh(ctx, log)
	s.observe(result, err, time.Since(start))

	if err != nil {
		log.Error().Err(err).Msg("refresh failed")
		return result, err
	}
	return result, nil
}

func (s *Service) refresh(ctx context.Context, log zerolog.Logger) (*Result, error) {
	rec, err := s.identity.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !rec.Authenticated() {
		return &Result{NeedsReauth: true}, nil
	}

	// One transparent token refresh per run. Refresh tokens rotate, so the
	// replacement pair is persisted immediately even if the rest of the
	// pipeline aborts.
	token, err := s.refresher.RefreshAccessToken(ctx, rec.RefreshToken)
	if err != nil {
		if errors.Is(err, yoto.ErrAuthExpired) {
			return &Result{NeedsReauth: true}, nil
		}
		return nil, err
	}
	rec.AccessToken = token.AccessToken
	rec.RefreshToken = token.RefreshToken
	if err := s.identity.SaveTokens(ctx, token.AccessToken, token.RefreshToken); err != nil {
		return nil, err
	}

	rw, err := s.data.NextRaceWeekend(ctx)
	if err != nil {
		return nil, err
	}
	log = log.With().Str("race", rw.RaceName).Logger()

	fingerprint := f1.Fingerprint(rw)
	if rec.CardID != "" && rec.Fingerprint == fingerprint {
		log.Info().Str("card_id", rec.CardID).Msg("content unchanged, skipping regeneration")
		return &Result{
			Success:   true,
			Unchanged: true,
			CardID:    rec.CardID,
			IsUpdate:  false,
			RaceName:  rw.RaceName,
		}, nil
	}

	api := s.platform(rec.AccessToken)

	icon := s.uploadIcon(ctx, api, log)
	cover := s.uploadCover(ctx, api, log)

	script := narration.Build(toFacts(rw), icon.Ref)

	title := rec.PlaylistTitle
	if title == "" {
		title = fmt.Sprintf("F1: %s %d", rw.RaceName, rw.Year)
	}

	var (
		cardID   string
		isUpdate bool
	)
	switch s.ttsMode {
	case ModeLabs:
		cardID, err = s.runLabsJob(ctx, api, title, script, log)
	default:
		cardID, isUpdate, err = s.runStreaming(ctx, api, title, script, rec.CardID, cover, log)
	}
	if err != nil {
		if errors.Is(err, yoto.ErrAuthExpired) {
			return &Result{NeedsReauth: true}, nil
		}
		return nil, err
	}

	// Device enumeration failure fails the refresh; per-device failures are
	// aggregated inside the summary and never do.
	summary, err := deploy.Fanout(ctx, api, cardID)
	if err != nil {
		if errors.Is(err, yoto.ErrAuthExpired) {
			return &Result{NeedsReauth: true}, nil
		}
		return nil, err
	}

	rec.CardID = cardID
	rec.PlaylistTitle = title
	rec.Fingerprint = fingerprint
	if err := s.identity.Save(ctx, rec); err != nil {
		return nil, err
	}

	log.Info().
		Str("card_id", cardID).
		Bool("is_update", isUpdate).
		Int("devices_ok", summary.Succeeded).
		Int("devices_failed", summary.Failed).
		Msg("refresh complete")

	return &Result{
		Success:      true,
		CardID:       cardID,
		IsUpdate:     isUpdate,
		RaceName:     rw.RaceName,
		IconOmitted:  icon.Omitted,
		CoverOmitted: cover.Omitted,
		Deployment:   summary,
	}, nil
}

// runStreaming synthesizes each track independently, assembles the card spec
// and reconciles it against the stored card id.
func (s *Service) runStreaming(
	ctx context.Context,
	api PlatformAPI,
	title string,
	script narration.Script,
	priorCardID string,
	cover Attachment,
	log zerolog.Logger,
) (string, bool, error) {
	chapters, err := s.synthesizeScript(ctx, api, script, log)
	if err != nil {
		return "", false, err
	}

	spec := yoto.CardSpec{
		Title:    title,
		Chapters: chapters,
		CoverURL: cover.Ref,
	}
	return s.reconcileCard(ctx, api, priorCardID, spec, log)
}

// synthesizeScript converts narration tracks to playable card chapters.
// Tracks fail independently; a failed track is dropped with a warning. Only
// a script with no playable tracks at all aborts the refresh.
func (s *Service) synthesizeScript(
	ctx context.Context,
	api PlatformAPI,
	script narration.Script,
	log zerolog.Logger,
) ([]yoto.CardChapter, error) {
	var (
		chapters []yoto.CardChapter
		playable int
		lastErr  error
	)

	for _, ch := range script.Chapters {
		cardCh := yoto.CardChapter{
			Key:   ch.Key,
			Title: ch.Title,
		}
		if ch.Icon != "" {
			cardCh.Display = &yoto.Display{Icon16x16: ch.Icon}
		}

		for _, tr := range ch.Tracks {
			audioRef := tr.AudioRef
			if audioRef == "" {
				ref, err := api.Synthesize(ctx, tr.Title, tr.Text, s.voiceID)
				if err != nil {
					if errors.Is(err, yoto.ErrAuthExpired) {
						return nil, err
					}
					log.Warn().Err(err).Str("track", tr.Title).Msg("track synthesis failed, omitting track")
					lastErr = err
					continue
				}
				audioRef = ref
			}

			cardTr := yoto.CardTrack{
				Key:      tr.Key,
				Title:    tr.Title,
				TrackURL: audioRef,
				Type:     "stream",
				Format:   "mp3",
			}
			if tr.Icon != "" {
				cardTr.Display = &yoto.Display{Icon16x16: tr.Icon}
			}
			cardCh.Tracks = append(cardCh.Tracks, cardTr)
			playable++
		}

		if len(cardCh.Tracks) > 0 {
			chapters = append(chapters, cardCh)
		}
	}

	if playable == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("no tracks synthesized: %w", lastErr)
		}
		return nil, fmt.Errorf("%w: script produced no tracks", yoto.ErrSynthesis)
	}
	return chapters, nil
}

// reconcileCard decides create-vs-update. A prior card id means update in
// place; creation is the fallback only for the explicit legacy-content
// signal, and that fallback is logged, never silent.
func (s *Service) reconcileCard(
	ctx context.Context,
	api PlatformAPI,
	priorCardID string,
	spec yoto.CardSpec,
	log zerolog.Logger,
) (string, bool, error) {
	if priorCardID == "" {
		cardID, err := api.CreateCard(ctx, spec)
		if err != nil {
			return "", false, err
		}
		return cardID, false, nil
	}

	cardID, err := api.UpdateCard(ctx, priorCardID, spec)
	if err == nil {
		return cardID, true, nil
	}
	if errors.Is(err, yoto.ErrLegacyContent) {
		log.Warn().Str("card_id", priorCardID).
			Msg("existing card has legacy content, creating replacement card")
		cardID, err := api.CreateCard(ctx, spec)
		if err != nil {
			return "", false, err
		}
		return cardID, false, nil
	}
	if errors.Is(err, yoto.ErrAuthExpired) {
		return "", false, err
	}
	return "", false, fmt.Errorf("%w: %w", ErrUpdateRejected, err)
}

// runLabsJob submits the whole script as one legacy job. The backend creates
// the card server-side, so this path never updates in place.
func (s *Service) runLabsJob(
	ctx context.Context,
	api PlatformAPI,
	title string,
	script narration.Script,
	log zerolog.Logger,
) (string, error) {
	chapters := make([]yoto.TTSChapter, 0, len(script.Chapters))
	for _, ch := range script.Chapters {
		tc := yoto.TTSChapter{Key: ch.Key, Title: ch.Title}
		for _, tr := range ch.Tracks {
			tc.Tracks = append(tc.Tracks, yoto.TTSTrack{
				Key:   tr.Key,
				Title: tr.Title,
				Text:  tr.Text,
			})
		}
		chapters = append(chapters, tc)
	}

	jobID, err := api.SubmitTTSJob(ctx, title, s.voiceID, chapters)
	if err != nil {
		return "", err
	}
	log.Info().Str("job_id", jobID).Msg("labs tts job submitted")

	return api.WaitForTTSJob(ctx, jobID, s.pollInterval, s.maxWait)
}

// uploadIcon attaches the chapter icon, downgrading failure to omission.
func (s *Service) uploadIcon(ctx context.Context, api PlatformAPI, log zerolog.Logger) Attachment {
	if len(s.iconPNG) == 0 {
		return Attachment{Omitted: true, Reason: "no icon configured"}
	}
	ref, err := api.UploadIcon(ctx, s.iconPNG)
	if err != nil {
		log.Warn().Err(err).Msg("icon upload failed, continuing without icon")
		return Attachment{Omitted: true, Reason: err.Error()}
	}
	return Attachment{Ref: ref}
}

// uploadCover attaches the cover art, downgrading failure to omission.
func (s *Service) uploadCover(ctx context.Context, api PlatformAPI, log zerolog.Logger) Attachment {
	if len(s.coverImage) == 0 {
		return Attachment{Omitted: true, Reason: "no cover configured"}
	}
	ref, err := api.UploadCoverImage(ctx, s.coverImage)
	if err != nil {
		log.Warn().Err(err).Msg("cover upload failed, continuing without cover")
		return Attachment{Omitted: true, Reason: err.Error()}
	}
	return Attachment{Ref: ref}
}

// observe records metrics for one refresh.
func (s *Service) observe(result *Result, err error, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.RefreshDuration.Observe(elapsed.Seconds())

	switch {
	case err != nil:
		s.metrics.RefreshTotal.WithLabelValues("error").Inc()
	case result.NeedsReauth:
		s.metrics.RefreshTotal.WithLabelValues("needs_reauth").Inc()
	case result.Unchanged:
		s.metrics.RefreshTotal.WithLabelValues("unchanged").Inc()
	default:
		s.metrics.RefreshTotal.WithLabelValues("success").Inc()
		if result.IsUpdate {
			s.metrics.CardsUpdated.Inc()
		} else {
			s.metrics.CardsCreated.Inc()
		}
	}

	if result != nil && result.Deployment != nil {
		s.metrics.Deployments.WithLabelValues("ok").Add(float64(result.Deployment.Succeeded))
		s.metrics.Deployments.WithLabelValues("failed").Add(float64(result.Deployment.Failed))
	}
}

// toFacts maps the provider snapshot onto the narration input type.
func toFacts(rw *f1.RaceWeekend) narration.RaceWeekendFacts {
	facts := narration.RaceWeekendFacts{
		RaceName:    rw.RaceName,
		Location:    rw.Location,
		Country:     rw.Country,
		CircuitName: rw.CircuitName,
		CircuitType: rw.CircuitType,
		Start:       rw.Start,
		Year:        rw.Year,
	}
	for _, s := range rw.Sessions {
		facts.Sessions = append(facts.Sessions, narration.SessionFacts{
			Name:  s.Name,
			Type:  s.Type,
			Start: s.Start,
			End:   s.End,
		})
	}
	if rw.Weather != nil {
		facts.Weather = &narration.WeatherFacts{
			AirTemp:   rw.Weather.AirTemp,
			TrackTemp: rw.Weather.TrackTemp,
			Humidity:  rw.Weather.Humidity,
			Rainfall:  rw.Weather.Rainfall,
			WindSpeed: rw.Weather.WindSpeed,
		}
	}
	return facts
}
