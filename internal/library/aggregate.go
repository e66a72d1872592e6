package library

import "math"

// Summarize derives the rating summary from a review set. An empty set yields
// {0, 0}. The mean is rounded to two decimal places; that precision is part of
// the stored contract, not a display concern.
func Summarize(reviews []Review) Summary {
	if len(reviews) == 0 {
		return Summary{}
	}
	var sum int
	for _, rev := range reviews {
		sum += rev.Rating
	}
	mean := float64(sum) / float64(len(reviews))
	return Summary{
		AverageRating: math.Round(mean*100) / 100,
		TotalRatings:  len(reviews),
	}
}
