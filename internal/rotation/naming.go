package rotation

import (
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/rotator/internal/shared"
)

// DefaultPrefix names playlists when no usable prefix is configured.
const DefaultPrefix = "Vibe Collection"

var descriptions = []string{
	"A curated blend of sounds from our archive.",
	"Fresh picks from our vault, handpicked for today.",
	"For late nights and clear minds.",
	"An easy mix for your everyday soundtrack.",
	"Handpicked selections from the Vibe Engine library.",
}

var bannedWords = map[string]struct{}{
	"random":       {},
	"rotation":     {},
	"auto":         {},
	"autoplaylist": {},
}

// SanitizePrefix collapses whitespace and drops words that make a playlist look machine generated.
func SanitizePrefix(prefix string) string {
	var kept []string
	for _, word := range strings.Fields(prefix) {
		if _, banned := bannedWords[strings.ToLower(word)]; !banned {
			kept = append(kept, word)
		}
	}
	if len(kept) == 0 {
		return DefaultPrefix
	}
	return strings.Join(kept, " ")
}

// BuildName returns "<prefix> • <index>" with the index zero padded to three digits.
func BuildName(prefix string, index int) string {
	return fmt.Sprintf("%s • %03d", strings.TrimSpace(prefix), index)
}

// PickDescription returns the description for seed. The same seed always yields the same text.
func PickDescription(seed int) string {
	if seed < 0 {
		seed = -seed
	}
	return descriptions[seed%len(descriptions)]
}

// BatchTag labels one rotation in the ledger: the UTC date plus a random suffix.
func BatchTag(at time.Time) string {
	return at.UTC().Format(time.DateOnly) + "-" + shared.GenerateID()[:8]
}
