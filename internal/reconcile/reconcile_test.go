package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/tmcgrath/racebrief/internal/f1"
	"github.com/tmcgrath/racebrief/internal/store"
	"github.com/tmcgrath/racebrief/internal/yoto"
)

// fakePlatform scripts the platform surface and records calls.
type fakePlatform struct {
	synthCalls  int
	failTracks  map[string]bool
	iconErr     error
	coverErr    error
	createErr   error
	updateErr   error
	createCalls int
	updateCalls int
	lastSpec    yoto.CardSpec
	devices     []yoto.Device
	failDevices map[string]bool
	labsJobErr  error
}

func (f *fakePlatform) UploadIcon(context.Context, []byte) (string, error) {
	if f.iconErr != nil {
		return "", f.iconErr
	}
	return "yoto:#icon", nil
}

func (f *fakePlatform) UploadCoverImage(context.Context, []byte) (string, error) {
	if f.coverErr != nil {
		return "", f.coverErr
	}
	return "https://example/cover.png", nil
}

func (f *fakePlatform) Synthesize(_ context.Context, title, _, _ string) (string, error) {
	f.synthCalls++
	if f.failTracks[title] {
		return "", fmt.Errorf("%w: track %q", yoto.ErrSynthesis, title)
	}
	return "https://example/tts/" + title, nil
}

func (f *fakePlatform) SubmitTTSJob(_ context.Context, _, _ string, _ []yoto.TTSChapter) (string, error) {
	if f.labsJobErr != nil {
		return "", f.labsJobErr
	}
	return "job-1", nil
}

func (f *fakePlatform) WaitForTTSJob(_ context.Context, jobID string, _, _ time.Duration) (string, error) {
	return "card-labs-" + jobID, nil
}

func (f *fakePlatform) CreateCard(_ context.Context, spec yoto.CardSpec) (string, error) {
	f.createCalls++
	f.lastSpec = spec
	if f.createErr != nil {
		return "", f.createErr
	}
	return "card-new", nil
}

func (f *fakePlatform) UpdateCard(_ context.Context, cardID string, spec yoto.CardSpec) (string, error) {
	f.updateCalls++
	f.lastSpec = spec
	if f.updateErr != nil {
		return "", f.updateErr
	}
	return cardID, nil
}

func (f *fakePlatform) ListDevices(context.Context) ([]yoto.Device, error) {
	return f.devices, nil
}

func (f *fakePlatform) DeployCard(_ context.Context, deviceID, _ string) error {
	if f.failDevices[deviceID] {
		return errors.New("device offline")
	}
	return nil
}

// fakeRefresher rotates tokens on every run.
type fakeRefresher struct {
	err   error
	calls int
}

func (f *fakeRefresher) RefreshAccessToken(context.Context, string) (*oauth2.Token, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &oauth2.Token{AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
}

// fakeData serves a fixed snapshot.
type fakeData struct {
	rw  *f1.RaceWeekend
	err error
}

func (f *fakeData) NextRaceWeekend(context.Context) (*f1.RaceWeekend, error) {
	return f.rw, f.err
}

func testSnapshot() *f1.RaceWeekend {
	start := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	return &f1.RaceWeekend{
		MeetingKey:  1260,
		RaceName:    "Dutch Grand Prix",
		Location:    "Zandvoort",
		Country:     "Netherlands",
		CircuitName: "Circuit Zandvoort",
		Start:       start,
		Year:        2026,
		Sessions: []f1.Session{
			{SessionKey: 1, Name: "Qualifying", Start: start.Add(27 * time.Hour), End: start.Add(28 * time.Hour)},
			{SessionKey: 2, Name: "Race", Start: start.Add(51 * time.Hour), End: start.Add(53 * time.Hour)},
		},
	}
}

type fixture struct {
	svc       *Service
	identity  *store.Identity
	platform  *fakePlatform
	refresher *fakeRefresher
	data      *fakeData
}

func newFixture(t *testing.T, rec *store.Record, opts ...Option) *fixture {
	t.Helper()

	identity := store.NewIdentity(store.NewMemoryStore())
	if rec != nil {
		if err := identity.Save(context.Background(), rec); err != nil {
			t.Fatalf("seeding identity: %v", err)
		}
	}

	platform := &fakePlatform{}
	refresher := &fakeRefresher{}
	data := &fakeData{rw: testSnapshot()}

	opts = append([]Option{WithArtwork([]byte("png"), []byte("png"))}, opts...)
	svc := New(
		identity,
		refresher,
		func(string) PlatformAPI { return platform },
		data,
		"voice-1",
		zerolog.Nop(),
		opts...,
	)

	return &fixture{svc: svc, identity: identity, platform: platform, refresher: refresher, data: data}
}

func authedRecord() *store.Record {
	return &store.Record{AccessToken: "access-1", RefreshToken: "refresh-1"}
}

func TestFirstRefreshCreates(t *testing.T) {
	fx := newFixture(t, authedRecord())

	result, err := fx.svc.Refresh(context.Background(), "manual")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if !result.Success || result.IsUpdate {
		t.Errorf("result = %+v, want success create", result)
	}
	if result.CardID != "card-new" {
		t.Errorf("card id = %q", result.CardID)
	}
	if fx.platform.createCalls != 1 || fx.platform.updateCalls != 0 {
		t.Errorf("create/update calls = %d/%d, want 1/0",
			fx.platform.createCalls, fx.platform.updateCalls)
	}

	rec, err := fx.identity.Load(context.Background())
	if err != nil {
		t.Fatalf("loading identity: %v", err)
	}
	if rec.CardID != "card-new" {
		t.Errorf("stored card id = %q", rec.CardID)
	}
	if rec.PlaylistTitle != "F1: Dutch Grand Prix 2026" {
		t.Errorf("stored title = %q", rec.PlaylistTitle)
	}
	if rec.Fingerprint != f1.Fingerprint(testSnapshot()) {
		t.Error("fingerprint not persisted after success")
	}
	if rec.AccessToken != "access-2" || rec.RefreshToken != "refresh-2" {
		t.Errorf("rotated tokens not persisted: %+v", rec)
	}
}

func TestSecondRefreshUpdatesSameCard(t *testing.T) {
	rec := authedRecord()
	rec.CardID = "card-7"
	rec.PlaylistTitle = "F1: Belgian Grand Prix 2026"
	rec.Fingerprint = "stale"
	fx := newFixture(t, rec)

	result, err := fx.svc.Refresh(context.Background(), "cron")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if !result.IsUpdate {
		t.Error("second refresh did not update in place")
	}
	if result.CardID != "card-7" {
		t.Errorf("card id = %q, want stored card-7", result.CardID)
	}
	if fx.platform.updateCalls != 1 || fx.platform.createCalls != 0 {
		t.Errorf("create/update calls = %d/%d, want 0/1",
			fx.platform.createCalls, fx.platform.updateCalls)
	}
}

func TestTitleStableAcrossUpdates(t *testing.T) {
	rec := authedRecord()
	rec.CardID = "card-7"
	rec.PlaylistTitle = "F1: Belgian Grand Prix 2026"
	rec.Fingerprint = "stale"
	fx := newFixture(t, rec)

	// The underlying race changed, but the stored title must be reused.
	if _, err := fx.svc.Refresh(context.Background(), "cron"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if fx.platform.lastSpec.Title != "F1: Belgian Grand Prix 2026" {
		t.Errorf("title = %q, want the stored title verbatim", fx.platform.lastSpec.Title)
	}
	got, _ := fx.identity.Load(context.Background())
	if got.PlaylistTitle != "F1: Belgian Grand Prix 2026" {
		t.Errorf("stored title churned to %q", got.PlaylistTitle)
	}
}

func TestUnchangedFingerprintShortCircuits(t *testing.T) {
	rec := authedRecord()
	rec.CardID = "card-7"
	rec.PlaylistTitle = "F1: Dutch Grand Prix 2026"
	rec.Fingerprint = f1.Fingerprint(testSnapshot())
	fx := newFixture(t, rec)

	result, err := fx.svc.Refresh(context.Background(), "cron")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if !result.Unchanged || !result.Success {
		t.Errorf("result = %+v, want unchanged success", result)
	}
	if result.CardID != "card-7" {
		t.Errorf("card id = %q", result.CardID)
	}
	if fx.platform.synthCalls != 0 {
		t.Errorf("synthesis invoked %d times despite unchanged content", fx.platform.synthCalls)
	}
	if fx.platform.createCalls+fx.platform.updateCalls != 0 {
		t.Error("card backend touched despite unchanged content")
	}
}

func TestNeedsReauthWhenUnauthenticated(t *testing.T) {
	fx := newFixture(t, nil)

	result, err := fx.svc.Refresh(context.Background(), "manual")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !result.NeedsReauth {
		t.Errorf("result = %+v, want needsReauth", result)
	}
	if fx.refresher.calls != 0 {
		t.Error("token refresh attempted without stored credentials")
	}
}

func TestNeedsReauthOnRejectedRefresh(t *testing.T) {
	fx := newFixture(t, authedRecord())
	fx.refresher.err = fmt.Errorf("%w: refresh rejected", yoto.ErrAuthExpired)

	result, err := fx.svc.Refresh(context.Background(), "manual")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !result.NeedsReauth {
		t.Errorf("result = %+v, want needsReauth", result)
	}
	if fx.refresher.calls != 1 {
		t.Errorf("refresh attempts = %d, want exactly one", fx.refresher.calls)
	}
}

func TestUpstreamFailureAborts(t *testing.T) {
	fx := newFixture(t, authedRecord())
	fx.data.rw = nil
	fx.data.err = fmt.Errorf("%w: connection refused", f1.ErrUpstream)

	_, err := fx.svc.Refresh(context.Background(), "manual")
	if !errors.Is(err, f1.ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
	if fx.platform.synthCalls != 0 {
		t.Error("synthesis ran despite upstream failure")
	}
}

func TestLegacyContentFallsBackToCreate(t *testing.T) {
	rec := authedRecord()
	rec.CardID = "card-legacy"
	rec.Fingerprint = "stale"
	fx := newFixture(t, rec)
	fx.platform.updateErr = fmt.Errorf("updating card: %w", yoto.ErrLegacyContent)

	result, err := fx.svc.Refresh(context.Background(), "manual")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if result.IsUpdate {
		t.Error("legacy fallback must report a create, not an update")
	}
	if result.CardID != "card-new" {
		t.Errorf("card id = %q, want replacement card", result.CardID)
	}
	if fx.platform.updateCalls != 1 || fx.platform.createCalls != 1 {
		t.Errorf("create/update calls = %d/%d, want 1/1",
			fx.platform.createCalls, fx.platform.updateCalls)
	}

	got, _ := fx.identity.Load(context.Background())
	if got.CardID != "card-new" {
		t.Errorf("stored card id = %q, want replacement", got.CardID)
	}
}

func TestAmbiguousUpdateRejectionFails(t *testing.T) {
	rec := authedRecord()
	rec.CardID = "card-7"
	rec.Fingerprint = "stale"
	fx := newFixture(t, rec)
	fx.platform.updateErr = &yoto.APIError{Status: http.StatusUnprocessableEntity, Body: "malformed"}

	_, err := fx.svc.Refresh(context.Background(), "manual")
	if !errors.Is(err, ErrUpdateRejected) {
		t.Fatalf("err = %v, want ErrUpdateRejected", err)
	}
	if fx.platform.createCalls != 0 {
		t.Error("ambiguous rejection silently created a duplicate card")
	}

	// Aborted run leaves card state untouched.
	got, _ := fx.identity.Load(context.Background())
	if got.Fingerprint != "stale" || got.CardID != "card-7" {
		t.Errorf("identity modified on abort: %+v", got)
	}
}

func TestCoverFailureIsBestEffort(t *testing.T) {
	fx := newFixture(t, authedRecord())
	fx.platform.coverErr = errors.New("cover service down")

	result, err := fx.svc.Refresh(context.Background(), "manual")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if !result.Success || result.CardID == "" {
		t.Errorf("result = %+v, want usable card despite cover failure", result)
	}
	if !result.CoverOmitted {
		t.Error("cover omission not reported")
	}
	if fx.platform.lastSpec.CoverURL != "" {
		t.Errorf("spec cover = %q, want empty", fx.platform.lastSpec.CoverURL)
	}
}

func TestIconFailureIsBestEffort(t *testing.T) {
	fx := newFixture(t, authedRecord())
	fx.platform.iconErr = errors.New("icon service down")

	result, err := fx.svc.Refresh(context.Background(), "manual")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !result.Success || !result.IconOmitted {
		t.Errorf("result = %+v, want success with icon omitted", result)
	}
}

func TestTrackSynthesisFailureIsolated(t *testing.T) {
	fx := newFixture(t, authedRecord())
	fx.platform.failTracks = map[string]bool{"Qualifying": true}

	result, err := fx.svc.Refresh(context.Background(), "manual")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !result.Success {
		t.Error("one bad track aborted the whole refresh")
	}

	for _, ch := range fx.platform.lastSpec.Chapters {
		for _, tr := range ch.Tracks {
			if tr.Title == "Qualifying" {
				t.Error("failed track included in card spec")
			}
		}
	}
}

func TestAllTracksFailingAborts(t *testing.T) {
	fx := newFixture(t, authedRecord())
	fx.platform.failTracks = map[string]bool{}
	for _, title := range []string{"Dutch Grand Prix", "Qualifying", "Race"} {
		fx.platform.failTracks[title] = true
	}

	_, err := fx.svc.Refresh(context.Background(), "manual")
	if !errors.Is(err, yoto.ErrSynthesis) {
		t.Fatalf("err = %v, want ErrSynthesis", err)
	}
	if fx.platform.createCalls+fx.platform.updateCalls != 0 {
		t.Error("card assembled with zero playable tracks")
	}
}

func TestDeploymentFailuresAggregated(t *testing.T) {
	fx := newFixture(t, authedRecord())
	fx.platform.devices = []yoto.Device{{ID: "d1"}, {ID: "d2"}, {ID: "d3"}}
	fx.platform.failDevices = map[string]bool{"d2": true}

	result, err := fx.svc.Refresh(context.Background(), "manual")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if !result.Success {
		t.Error("partial deployment failed the refresh")
	}
	d := result.Deployment
	if d == nil || d.Succeeded != 2 || d.Failed != 1 || d.Total != 3 {
		t.Errorf("deployment = %+v, want 2/1/3", d)
	}
}

func TestLabsModeCreatesServerSide(t *testing.T) {
	rec := authedRecord()
	rec.CardID = "card-prev"
	rec.Fingerprint = "stale"
	fx := newFixture(t, rec, WithTTSMode(ModeLabs))

	result, err := fx.svc.Refresh(context.Background(), "manual")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if result.IsUpdate {
		t.Error("labs mode cannot update in place")
	}
	if !strings.HasPrefix(result.CardID, "card-labs-") {
		t.Errorf("card id = %q, want labs-created card", result.CardID)
	}
	if fx.platform.synthCalls != 0 {
		t.Error("streaming synthesis used in labs mode")
	}
}
