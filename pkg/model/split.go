package model

import "math/rand"

// TrainTestSplit shuffles 0..n-1 with seed and returns the training and test
// indices. The test share is floor(n*testSize), at least one row when n > 1.
func TrainTestSplit(n int, testSize float64, seed int64) (train, test []int) {
	perm := rand.New(rand.NewSource(seed)).Perm(n) //nolint:gosec // reproducible split, not security
	nTest := int(float64(n) * testSize)
	if nTest == 0 && n > 1 && testSize > 0 {
		nTest = 1
	}
	return perm[nTest:], perm[:nTest]
}
