package web

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tmcgrath/racebrief/internal/f1"
	"github.com/tmcgrath/racebrief/internal/reconcile"
	"github.com/tmcgrath/racebrief/internal/store"
	"github.com/tmcgrath/racebrief/internal/yoto"
)

const stateCookieName = "oauth_state"

// Handlers contains the HTTP handlers.
type Handlers struct {
	yoto      *yoto.Client
	identity  *store.Identity
	refresher *reconcile.Service
	log       zerolog.Logger
}

// NewHandlers creates a Handlers instance.
func NewHandlers(y *yoto.Client, identity *store.Identity, refresher *reconcile.Service, log zerolog.Logger) *Handlers {
	return &Handlers{
		yoto:      y,
		identity:  identity,
		refresher: refresher,
		log:       log,
	}
}

// statusResponse is the body of GET /.
type statusResponse struct {
	Authenticated bool   `json:"authenticated"`
	CardID        string `json:"cardId,omitempty"`
	PlaylistTitle string `json:"playlistTitle,omitempty"`
}

// Status reports the current identity summary (GET /).
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	rec, err := h.identity.Load(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading identity failed")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Authenticated: rec.Authenticated(),
		CardID:        rec.CardID,
		PlaylistTitle: rec.PlaylistTitle,
	})
}

// Login starts the OAuth flow (GET /auth/login).
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300,
	})

	http.Redirect(w, r, h.yoto.AuthURL(state), http.StatusTemporaryRedirect)
}

// Callback completes the OAuth flow and persists tokens (GET /callback).
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || r.URL.Query().Get("state") != stateCookie.Value {
		writeError(w, http.StatusBadRequest, "state mismatch")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		writeError(w, http.StatusBadRequest, "authorization failed: "+errMsg)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	token, err := h.yoto.ExchangeCode(r.Context(), code)
	if err != nil {
		h.log.Error().Err(err).Msg("code exchange failed")
		writeError(w, http.StatusBadGateway, "token exchange failed")
		return
	}

	if err := h.identity.SaveTokens(r.Context(), token.AccessToken, token.RefreshToken); err != nil {
		h.log.Error().Err(err).Msg("persisting tokens failed")
		writeError(w, http.StatusInternalServerError, "saving tokens failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": true})
}

// Logout clears stored credentials (POST /auth/logout). Card state is kept
// so a re-login resumes updating the same card.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.identity.ClearTokens(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "clearing tokens failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": false})
}

// refreshErrorResponse distinguishes "reconnect" from "try again" for
// user-facing messaging.
type refreshErrorResponse struct {
	Success     bool   `json:"success"`
	NeedsReauth bool   `json:"needsReauth"`
	Error       string `json:"error"`
}

// Refresh runs the pipeline (POST /refresh?trigger=manual|cron).
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	trigger := r.URL.Query().Get("trigger")
	if trigger == "" {
		trigger = "manual"
	}

	result, err := h.refresher.Refresh(r.Context(), trigger)
	if err != nil {
		status := http.StatusBadGateway
		msg := "refresh failed"
		if errors.Is(err, f1.ErrUpstream) || errors.Is(err, f1.ErrNoUpcomingRace) {
			msg = "race data unavailable"
		}
		writeJSON(w, status, refreshErrorResponse{Error: msg})
		return
	}

	if result.NeedsReauth {
		writeJSON(w, http.StatusUnauthorized, refreshErrorResponse{
			NeedsReauth: true,
			Error:       "authentication expired, reconnect your account",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
