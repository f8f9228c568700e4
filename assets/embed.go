// Package assets embeds the card artwork shipped with the service.
package assets

import _ "embed"

// Icon16 is the 16x16 chapter/track display icon.
//
//go:embed icon16.png
var Icon16 []byte

// Cover is the card cover art.
//
//go:embed cover.png
var Cover []byte
