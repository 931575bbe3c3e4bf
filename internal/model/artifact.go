package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
)

// artifact is the serialized logistic classifier produced by the external
// trainer: a weight per feature name plus a bias, scored with a sigmoid.
type artifact struct {
	Weights map[string]float64 `json:"weights"`
	Bias    float64            `json:"bias"`

	// Means/Scales standardize features before applying weights. Optional;
	// absent means raw features.
	Means  map[string]float64 `json:"means,omitempty"`
	Scales map[string]float64 `json:"scales,omitempty"`
}

// ArtifactAdapter evaluates a local logistic model in-process. Loading
// happens once at startup; classification is pure computation and never
// fails at request time.
type ArtifactAdapter struct {
	art artifact
}

func loadArtifact(path string) (*ArtifactAdapter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model: read artifact: %w", err)
	}
	var art artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("model: parse artifact %s: %w", path, err)
	}
	if len(art.Weights) == 0 {
		return nil, fmt.Errorf("model: artifact %s has no weights", path)
	}
	return &ArtifactAdapter{art: art}, nil
}

func (a *ArtifactAdapter) Classify(_ context.Context, md core.RequestMetadata) (float64, bool, error) {
	z := a.art.Bias
	for name, x := range Features(md) {
		w, ok := a.art.Weights[name]
		if !ok {
			continue
		}
		if mean, ok := a.art.Means[name]; ok {
			x -= mean
		}
		if scale, ok := a.art.Scales[name]; ok && scale != 0 {
			x /= scale
		}
		z += w * x
	}
	return clamp(1 / (1 + math.Exp(-z))), true, nil
}

func (a *ArtifactAdapter) Name() string { return "artifact" }
