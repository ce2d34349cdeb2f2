package engine

import "strings"

// Static keyword sets for the affect heuristic. These are deliberately a
// lexicon lookup, not language understanding; the exact words and weights
// are load-bearing for reproducibility.
var (
	positiveWords = []string{"win", "success", "stable", "growth", "clear", "good", "great", "love", "proud", "ready", "focus"}
	negativeWords = []string{"error", "fail", "bug", "lost", "mad", "angry", "sad", "risk", "bad", "conflict", "block", "hiccup"}
	highArousal   = []string{"alert", "urgent", "now", "fast", "hot", "fire", "launch", "pressure", "intense", "crash"}
	lowArousal    = []string{"calm", "steady", "chill", "slow", "idle", "rest"}
)

// Analyze scores free text for valence, arousal, and hit labels. Pure and
// deterministic. Empty input yields the neutral baseline (0.0, 0.2, nil).
func Analyze(text string) (valence, arousal float64, labels []string) {
	if strings.TrimSpace(text) == "" {
		return 0.0, 0.2, nil
	}
	t := strings.ToLower(text)

	pos := countHits(t, positiveWords)
	neg := countHits(t, negativeWords)
	high := countHits(t, highArousal)
	low := countHits(t, lowArousal)

	valence = clip(0.2*float64(pos)-0.25*float64(neg), -1.0, 1.0)
	arousal = clip(0.2+0.15*float64(high)-0.1*float64(low), 0.0, 1.0)

	if pos > 0 {
		labels = append(labels, "positive")
	}
	if neg > 0 {
		labels = append(labels, "negative")
	}
	if high > 0 {
		labels = append(labels, "high_arousal")
	}
	if low > 0 {
		labels = append(labels, "low_arousal")
	}
	return valence, arousal, labels
}

func countHits(t string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(t, w) {
			n++
		}
	}
	return n
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
