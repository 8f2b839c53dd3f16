package service

import (
	"math"
	"time"
)

const (
	basePoints    = 10
	maxSpeedBonus = 5
	bonusStepSecs = 10
)

// Points scores one answer.
// Formula: correct answers earn 10 base points plus a speed bonus of
//
//	max(0, 5 - floor(elapsedSeconds / 10))
//
// so 15 points inside the first 10 seconds, 10 points from 50 seconds on.
// Wrong answers earn nothing.
func Points(correct bool, elapsedSeconds float64) int {
	if !correct {
		return 0
	}
	if elapsedSeconds < 0 {
		elapsedSeconds = 0
	}
	bonus := maxSpeedBonus - int(math.Floor(elapsedSeconds/bonusStepSecs))
	if bonus < 0 {
		bonus = 0
	}
	return basePoints + bonus
}

// PointsAfter is Points for an elapsed duration
func PointsAfter(correct bool, elapsed time.Duration) int {
	return Points(correct, elapsed.Seconds())
}
