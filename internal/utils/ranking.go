package utils

import (
	"math"
	"time"
)

type RankConfig struct {
	Gravity       float64 // age decay exponent
	WeightVote    float64
	WeightComment float64
	ScaleFactor   float64
}

var DefaultRankConfig = RankConfig{
	Gravity:       1.5,
	WeightVote:    1.0,
	WeightComment: 2.0,
	ScaleFactor:   100.0,
}

// HotScore ranks by log-smoothed activity divided by an age penalty, so a busy
// new issue outranks an old one with the same totals.
func HotScore(createdAt, now time.Time, votes, comments int64) float64 {
	cfg := DefaultRankConfig
	hours := now.Sub(createdAt).Hours()
	if hours < 0 {
		hours = 0
	}

	weighted := float64(votes)*cfg.WeightVote + float64(comments)*cfg.WeightComment
	if weighted < 0 {
		weighted = 0
	}

	return math.Log10(weighted+1) * cfg.ScaleFactor / math.Pow(hours+2, cfg.Gravity)
}
