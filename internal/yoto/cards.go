package yoto

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// CardTrack is one playable track in a card's content tree.
type CardTrack struct {
	Key      string   `json:"key"`
	Title    string   `json:"title"`
	TrackURL string   `json:"trackUrl"`
	Type     string   `json:"type"`
	Format   string   `json:"format,omitempty"`
	Display  *Display `json:"display,omitempty"`
}

// CardChapter groups ordered tracks. The platform infers playback order from
// the zero-padded keys.
type CardChapter struct {
	Key     string      `json:"key"`
	Title   string      `json:"title"`
	Display *Display    `json:"display,omitempty"`
	Tracks  []CardTrack `json:"tracks"`
}

// Display carries optional icon metadata for a chapter or track.
type Display struct {
	Icon16x16 string `json:"icon16x16,omitempty"`
}

// CardSpec is everything needed to create or update one card.
type CardSpec struct {
	Title    string
	Chapters []CardChapter
	CoverURL string
}

// cardPayload is the wire form of card content.
type cardPayload struct {
	CardID   string       `json:"cardId,omitempty"`
	Title    string       `json:"title"`
	Content  cardContent  `json:"content"`
	Metadata cardMetadata `json:"metadata"`
}

type cardContent struct {
	Chapters []CardChapter `json:"chapters"`
}

type cardMetadata struct {
	Cover *cardCover `json:"cover,omitempty"`
	Media cardMedia  `json:"media"`
}

type cardCover struct {
	ImageL string `json:"imageL"`
}

type cardMedia struct {
	// The player shows narration as ad-free kids content.
	Category string `json:"category"`
}

type cardResponse struct {
	Card struct {
		CardID string `json:"cardId"`
	} `json:"card"`
}

// CreateCard creates a new card and returns its id.
func (c *Client) CreateCard(ctx context.Context, spec CardSpec) (string, error) {
	resp, err := c.postContent(ctx, "", spec)
	if err != nil {
		return "", fmt.Errorf("creating card: %w", err)
	}
	return resp, nil
}

// UpdateCard replaces the content of an existing card in place, keeping its
// id. Content produced by the legacy labs TTS mode is rejected by the
// backend with a conflict, surfaced as ErrLegacyContent so the caller can
// decide to create instead.
func (c *Client) UpdateCard(ctx context.Context, cardID string, spec CardSpec) (string, error) {
	resp, err := c.postContent(ctx, cardID, spec)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			return "", fmt.Errorf("updating card %s: %w", cardID, ErrLegacyContent)
		}
		return "", fmt.Errorf("updating card %s: %w", cardID, err)
	}
	return resp, nil
}

func (c *Client) postContent(ctx context.Context, cardID string, spec CardSpec) (string, error) {
	payload := cardPayload{
		CardID: cardID,
		Title:  spec.Title,
		Content: cardContent{
			Chapters: spec.Chapters,
		},
		Metadata: cardMetadata{
			Media: cardMedia{Category: "none"},
		},
	}
	if spec.CoverURL != "" {
		payload.Metadata.Cover = &cardCover{ImageL: spec.CoverURL}
	}

	var resp cardResponse
	if err := c.doJSON(ctx, http.MethodPost, "/content", payload, &resp); err != nil {
		return "", err
	}
	if resp.Card.CardID == "" {
		return "", errors.New("platform returned empty card id")
	}
	return resp.Card.CardID, nil
}
