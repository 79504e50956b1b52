package rating

import "math"

const (
	// KFactor is fixed for all players regardless of experience.
	KFactor = 32.0

	// DefaultRating seeds a player's first rated game.
	DefaultRating = 1500.0
)

// ExpectedScore is the logistic Elo expectation
// E = 1 / (1 + 10^((opponent - rating) / 400)).
func ExpectedScore(rating, opponent float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (opponent-rating)/400.0))
}

// UpdatedRating applies R' = R + K*(S - E) for an actual score S
// (win=1, draw=0.5, loss=0).
func UpdatedRating(rating, opponent, score float64) float64 {
	return rating + KFactor*(score-ExpectedScore(rating, opponent))
}

// Scores converts a game result string into (white, black) actual scores.
// ok is false for unrecognized results.
func Scores(result string) (white, black float64, ok bool) {
	switch result {
	case "1-0":
		return 1, 0, true
	case "0-1":
		return 0, 1, true
	case "1/2-1/2":
		return 0.5, 0.5, true
	default:
		return 0, 0, false
	}
}
