// Package outlier scores observations by their modified z-score and flags
// the ones above a threshold.
//
// The score of an observation is 0.6745 * d / MAD, where d is the Euclidean
// distance of the observation from the coordinate-wise sample median and MAD
// is the median of all d. 1-D samples are treated as length-1 vectors.
//
// When MAD is zero the score is +Inf for observations away from the median
// and 0 for observations on it. Score and IsOutlier are pure functions.
package outlier
