package yoto

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Synthesize submits one track's text to the streaming TTS backend and
// returns a playable track URL. Tracks are independent: one failed synthesis
// does not affect the others.
func (c *Client) Synthesize(ctx context.Context, title, text, voiceID string) (string, error) {
	body := map[string]string{
		"title": title,
		"text":  text,
		"voice": voiceID,
	}

	var resp struct {
		URL string `json:"url"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/media/tts/streaming", body, &resp); err != nil {
		if errors.Is(err, ErrAuthExpired) {
			return "", err
		}
		return "", fmt.Errorf("%w: track %q: %w", ErrSynthesis, title, err)
	}
	if resp.URL == "" {
		return "", fmt.Errorf("%w: track %q: empty audio url", ErrSynthesis, title)
	}
	return resp.URL, nil
}

// TTSJobStatus is one poll result for a legacy labs TTS job.
type TTSJobStatus struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	CardID   string `json:"cardId"`
	Error    string `json:"error"`
}

// TTSChapter is the wire form of one chapter in a labs submission.
type TTSChapter struct {
	Key    string     `json:"key"`
	Title  string     `json:"title"`
	Tracks []TTSTrack `json:"tracks"`
}

// TTSTrack is one track of raw text to synthesize.
type TTSTrack struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// ttsScriptPayload is the wire form of a whole-script labs submission.
type ttsScriptPayload struct {
	Title    string       `json:"title"`
	Voice    string       `json:"voice"`
	Chapters []TTSChapter `json:"chapters"`
}

// SubmitTTSJob submits a whole script as one legacy labs job. The backend
// creates the card itself once synthesis completes; such cards can never be
// updated in place afterwards.
func (c *Client) SubmitTTSJob(ctx context.Context, title, voiceID string, chapters []TTSChapter) (string, error) {
	payload := ttsScriptPayload{Title: title, Voice: voiceID, Chapters: chapters}

	var resp struct {
		JobID string `json:"jobId"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/card/labs/tts", payload, &resp); err != nil {
		if errors.Is(err, ErrAuthExpired) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("%w: empty job id", ErrSynthesis)
	}
	return resp.JobID, nil
}

// PollTTSJob fetches the current status of a labs job.
func (c *Client) PollTTSJob(ctx context.Context, jobID string) (*TTSJobStatus, error) {
	var resp TTSJobStatus
	if err := c.doJSON(ctx, http.MethodGet, "/card/labs/tts/"+jobID, nil, &resp); err != nil {
		return nil, fmt.Errorf("polling tts job %s: %w", jobID, err)
	}
	return &resp, nil
}

// WaitForTTSJob polls a labs job until terminal, bounded by maxWait. A
// completed job yields the card id the backend created. Labs jobs are
// all-or-nothing: any failure aborts the whole script.
func (c *Client) WaitForTTSJob(ctx context.Context, jobID string, interval, maxWait time.Duration) (string, error) {
	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.PollTTSJob(ctx, jobID)
		if err != nil {
			return "", err
		}

		switch status.Status {
		case "completed":
			if status.CardID == "" {
				return "", fmt.Errorf("%w: job completed without card id", ErrSynthesis)
			}
			return status.CardID, nil
		case "failed":
			return "", fmt.Errorf("%w: %s", ErrSynthesis, status.Error)
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: tts job still %s after %s",
				ErrTranscodeTimeout, status.Status, maxWait)
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %w", ErrTranscodeTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}
