// Package names holds display-name helpers shared by registration and
// matchmaking.
package names

import (
	"fmt"
	"math/rand"
	"strings"
)

var adjectives = []string{
	"Swift", "Brave", "Clever", "Noble", "Mighty", "Silent", "Golden", "Silver",
	"Crimson", "Azure", "Cosmic", "Ancient", "Mystic", "Royal", "Bold", "Wise",
	"Storm", "Frost", "Iron", "Stone", "Lunar", "Solar", "Phantom", "Eternal",
}

var nouns = []string{
	"Knight", "Bishop", "Rook", "Queen", "King", "Pawn", "Dragon", "Phoenix",
	"Wolf", "Eagle", "Falcon", "Serpent", "Oracle", "Hunter", "Champion",
	"Tower", "Crown", "Sword", "Shield", "Comet", "Nova", "Guardian", "Marshal",
}

// Normalize lower-cases and trims a display name for comparison. Two
// agents whose normalized names match are treated as the same bot name by
// the matchmaking pairing heuristic.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Random generates a fallback display name in the form "AdjectiveNoun123"
// for registrations that omit one.
func Random() string {
	adjective := adjectives[rand.Intn(len(adjectives))]
	noun := nouns[rand.Intn(len(nouns))]
	return fmt.Sprintf("%s%s%d", adjective, noun, rand.Intn(1000))
}
