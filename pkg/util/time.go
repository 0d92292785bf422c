package util

import (
	"math/rand"
	"time"
)

func TimeRandBetween(min, max time.Duration) time.Duration {
	if min > max {
		panic("")
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
