package services

// precisionWeightedMerge combines two (mean, variance) estimates by inverse
// variance. Each input is weighted by its precision (1/variance), so a
// noisy sample estimate gets pulled toward a tight prior while a
// well-measured one dominates it. The merged variance is the inverse of the
// summed precisions.
//
// This single combinator backs the Bayesian shrinkage level and both
// pooling levels of the fallback hierarchy.
func precisionWeightedMerge(mean1, var1, mean2, var2 float64) (mean, variance float64) {
	if var1 <= 0 && var2 <= 0 {
		// No usable precision on either side; split the difference.
		return (mean1 + mean2) / 2, 0
	}
	if var1 <= 0 {
		return mean1, 0
	}
	if var2 <= 0 {
		return mean2, 0
	}

	p1 := 1 / var1
	p2 := 1 / var2

	mean = (mean1*p1 + mean2*p2) / (p1 + p2)
	variance = 1 / (p1 + p2)
	return mean, variance
}

// inverseVarianceAverage pools several point estimates weighted by the
// inverse of their variances. Estimates with unusable variances fall back
// to the average weight so they still contribute; when no variances are
// usable at all, the result is the unweighted mean.
func inverseVarianceAverage(means, variances []float64) (mean, variance float64, ok bool) {
	if len(means) == 0 || len(means) != len(variances) {
		return 0, 0, false
	}

	totalPrecision := 0.0
	usable := 0
	for _, v := range variances {
		if v > 0 {
			totalPrecision += 1 / v
			usable++
		}
	}

	if usable == 0 {
		sum := 0.0
		for _, m := range means {
			sum += m
		}
		return sum / float64(len(means)), 0, true
	}

	weightedSum := 0.0
	fallbackWeight := totalPrecision / float64(usable)
	totalWeight := 0.0
	for i, m := range means {
		w := fallbackWeight
		if variances[i] > 0 {
			w = 1 / variances[i]
		}
		weightedSum += m * w
		totalWeight += w
	}

	return weightedSum / totalWeight, 1 / totalWeight, true
}
