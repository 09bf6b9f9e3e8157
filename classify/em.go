package classify

import "math"

// EMOpts controls the expectation-maximization loop.
type EMOpts struct {
	// MaxIterations bounds the number of iterations.
	MaxIterations int `yaml:"max_iterations"`
	// Convergence is the largest per-candidate change between iterations
	// that counts as converged.
	Convergence float64 `yaml:"convergence"`
	// Novelty is the top posterior below which a call is potentially novel.
	Novelty float64 `yaml:"novelty"`
}

// DefaultEMOpts are the default classifier options.
var DefaultEMOpts = EMOpts{
	MaxIterations: 50,
	Convergence:   1e-6,
	Novelty:       0.5,
}

// RunEM iterates
//
//	posterior_i = score_i * prior_i / sum_j(score_j * prior_j)
//	prior_i     = posterior_i
//
// starting from prior, or from the uniform distribution if prior is nil,
// until no posterior moves by Convergence or more, or MaxIterations is
// reached. The posterior always sums to 1: if every product is zero the
// uniform distribution is returned. RunEM returns nil for zero scores.
//
// The prior update uses only this cluster's posterior. It is the fixed-point
// form of EM for a single observation, not a population-level abundance
// update.
func RunEM(scores, prior []float64, opts EMOpts) (posterior []float64, iterations int, converged bool) {
	n := len(scores)
	if n == 0 {
		return nil, 0, false
	}
	if prior == nil {
		prior = uniform(n)
	}
	for iter := 0; iter < opts.MaxIterations; iter++ {
		posterior = estep(scores, prior)
		var change float64
		for i := range posterior {
			change = math.Max(change, math.Abs(posterior[i]-prior[i]))
		}
		if change < opts.Convergence {
			return posterior, iter + 1, true
		}
		prior = posterior
	}
	if posterior == nil {
		// MaxIterations <= 0.
		posterior = normalize(append([]float64(nil), prior...))
	}
	return posterior, opts.MaxIterations, false
}

func estep(scores, prior []float64) []float64 {
	post := make([]float64, len(scores))
	for i := range scores {
		post[i] = scores[i] * prior[i]
	}
	return normalize(post)
}

// normalize scales p in place to sum to 1, or replaces it with the uniform
// distribution if it sums to 0.
func normalize(p []float64) []float64 {
	var total float64
	for _, v := range p {
		total += v
	}
	if total == 0 {
		return uniform(len(p))
	}
	for i := range p {
		p[i] /= total
	}
	return p
}

func uniform(n int) []float64 {
	p := make([]float64, n)
	for i := range p {
		p[i] = 1 / float64(n)
	}
	return p
}
