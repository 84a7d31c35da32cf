package processor

import (
	"github.com/adverant/nexus/faceredact-engine/internal/clients"
	"github.com/adverant/nexus/faceredact-engine/internal/imaging"
)

// JoinResults pairs detections with classifier flags by position. Only the
// first min(len(detections), len(flags)) pairs are honored; detections
// without a flag are kept but never flagged. Extra flags are ignored.
func JoinResults(detections []clients.Detection, classification *clients.ClassifyResponse) []FacePair {
	var flags []clients.MinorFlag
	var details []clients.ClassificationDetail
	if classification != nil {
		flags = classification.Flags
		details = classification.Details
	}

	n := min(len(detections), len(flags))
	pairs := make([]FacePair, len(detections))
	for i, d := range detections {
		pairs[i] = FacePair{Index: i, Detection: d}
		if i >= n {
			continue
		}
		pairs[i].Classified = true
		pairs[i].Minor = bool(flags[i])
		if i < len(details) {
			detail := details[i]
			pairs[i].Detail = &detail
		}
	}
	return pairs
}

// RedactionRegions returns the clamped region of every face flagged as a
// minor. Boxes that collapse after clamping are dropped.
func RedactionRegions(pairs []FacePair, width, height int) []imaging.Region {
	var regions []imaging.Region
	for _, p := range pairs {
		if !p.Classified || !p.Minor {
			continue
		}
		if r, ok := imaging.RegionFromBBox(p.Detection.Box(), width, height); ok {
			regions = append(regions, r)
		}
	}
	return regions
}

// Annotations converts classified pairs into debug overlays
func Annotations(pairs []FacePair, width, height int) []imaging.Annotation {
	var out []imaging.Annotation
	for _, p := range pairs {
		if !p.Classified {
			continue
		}
		box, ok := imaging.RegionFromBBox(p.Detection.Box(), width, height)
		if !ok {
			continue
		}
		a := imaging.Annotation{Box: box, Minor: p.Minor}
		if p.Detail != nil {
			a.Probability = p.Detail.Probability
			a.HasProbability = true
		}
		out = append(out, a)
	}
	return out
}
