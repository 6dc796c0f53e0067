package reasoning

// evidenceFreeCap limits how much weight a claim without any supporting
// evidence can carry.
const evidenceFreeCap = 0.5

// degradedParseCap bounds the confidence of a run whose model output
// could not be parsed cleanly in some phase.
const degradedParseCap = 0.5

// inconsistentPenalty scales confidence when verification finds the
// conclusion inconsistent with the observations.
const inconsistentPenalty = 0.5

// StepConfidence multiplies per-step confidences into a run confidence,
// clamped below by floor. Multiplication is deliberate: a chain of
// reasoning is only as sound as all of its links together, and longer
// chains are less certain than short ones. Evidence-free steps are capped
// before multiplying.
func StepConfidence(steps []Step, floor float64) float64 {
	if len(steps) == 0 {
		return clampFloor(0, floor)
	}
	product := 1.0
	for _, step := range steps {
		c := clamp01(step.Confidence)
		if len(step.Evidence) == 0 && c > evidenceFreeCap {
			c = evidenceFreeCap
		}
		product *= c
	}
	return clampFloor(product, floor)
}

func clampFloor(v, floor float64) float64 {
	if v < floor {
		return floor
	}
	if v > 1 {
		return 1
	}
	return v
}
