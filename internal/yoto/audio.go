package yoto

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// JobState is the lifecycle stage of one audio upload.
type JobState string

// Upload job states. Transitions only move forward; Ready, Failed and
// TimedOut are terminal.
const (
	StateRequested   JobState = "requested"
	StateUploading   JobState = "uploading"
	StateTranscoding JobState = "transcoding"
	StateReady       JobState = "ready"
	StateFailed      JobState = "failed"
	StateTimedOut    JobState = "timed_out"
)

// order of forward transitions; terminal states share the final rank.
var stateRank = map[JobState]int{
	StateRequested:   0,
	StateUploading:   1,
	StateTranscoding: 2,
	StateReady:       3,
	StateFailed:      3,
	StateTimedOut:    3,
}

// UploadJob tracks one in-flight audio upload through transcoding.
type UploadJob struct {
	ID       string
	State    JobState
	AudioRef string
}

// Terminal reports whether the job reached a final state.
func (j *UploadJob) Terminal() bool {
	return j.State == StateReady || j.State == StateFailed || j.State == StateTimedOut
}

// advance moves the job forward. Backward transitions are programming errors
// and are rejected.
func (j *UploadJob) advance(next JobState) error {
	if stateRank[next] < stateRank[j.State] || j.Terminal() {
		return fmt.Errorf("invalid upload state transition %s -> %s", j.State, next)
	}
	j.State = next
	return nil
}

// UploadAudio requests an upload target, transmits the audio bytes and waits
// for server-side transcoding, polling at interval up to maxWait. On success
// the returned job is in StateReady with AudioRef set to the playable
// transcoded reference.
func (c *Client) UploadAudio(ctx context.Context, audio []byte, interval, maxWait time.Duration) (*UploadJob, error) {
	job := &UploadJob{State: StateRequested}

	var target struct {
		Upload struct {
			UploadID  string `json:"uploadId"`
			UploadURL string `json:"uploadUrl"`
		} `json:"upload"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/media/transcode/audio/uploadUrl", nil, &target); err != nil {
		if errors.Is(err, ErrAuthExpired) {
			return job, err
		}
		return job, fmt.Errorf("%w: %w", ErrUploadRejected, err)
	}
	job.ID = target.Upload.UploadID

	if err := job.advance(StateUploading); err != nil {
		return job, err
	}
	if err := c.putAudio(ctx, target.Upload.UploadURL, audio); err != nil {
		job.State = StateFailed
		return job, fmt.Errorf("%w: %w", ErrUploadRejected, err)
	}

	if err := job.advance(StateTranscoding); err != nil {
		return job, err
	}
	ref, err := c.waitForTranscode(ctx, job.ID, interval, maxWait)
	if err != nil {
		if errors.Is(err, ErrTranscodeTimeout) {
			job.State = StateTimedOut
		} else {
			job.State = StateFailed
		}
		return job, err
	}

	job.AudioRef = ref
	if err := job.advance(StateReady); err != nil {
		return job, err
	}
	return job, nil
}

// putAudio transmits raw audio bytes to the pre-signed upload URL.
func (c *Client) putAudio(ctx context.Context, uploadURL string, audio []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(audio))
	if err != nil {
		return fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/mpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transmitting audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upload target returned status %d", resp.StatusCode)
	}
	return nil
}

// waitForTranscode polls the transcode status until a terminal answer or the
// wait budget is exhausted. The three outcomes are deliberately distinct:
// ready yields the audio reference, a backend failure yields
// ErrTranscodeFailed and budget exhaustion yields ErrTranscodeTimeout.
func (c *Client) waitForTranscode(ctx context.Context, uploadID string, interval, maxWait time.Duration) (string, error) {
	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var status struct {
			Transcode struct {
				TranscodedSHA256 string `json:"transcodedSha256"`
				Failed           bool   `json:"failed"`
				Error            string `json:"error"`
			} `json:"transcode"`
		}
		err := c.doJSON(ctx, http.MethodGet,
			"/media/upload/"+uploadID+"/transcoded?loudnorm=false", nil, &status)
		if err != nil && !isTransientStatus(err) {
			return "", fmt.Errorf("%w: %w", ErrTranscodeFailed, err)
		}

		if status.Transcode.Failed {
			return "", fmt.Errorf("%w: %s", ErrTranscodeFailed, status.Transcode.Error)
		}
		if status.Transcode.TranscodedSHA256 != "" {
			return "yoto:#" + status.Transcode.TranscodedSHA256, nil
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w after %s", ErrTranscodeTimeout, maxWait)
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %w", ErrTranscodeTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// isTransientStatus reports whether a poll error means "not done yet" rather
// than a real failure. The platform answers 404 until transcoding finishes.
func isTransientStatus(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
