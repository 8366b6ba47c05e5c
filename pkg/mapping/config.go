package mapping

import (
	"fmt"
	"strings"
)

const (
	DefaultIdentityThreshold          = 0.80
	DefaultBlatScoreThreshold         = 0.75
	DefaultMaximumRepeatFraction      = 0.3
	DefaultMinimumExonOverlapFraction = 0.05
	DefaultNonSpecificSiteThreshold   = 3
	DefaultNonRepeatNonSpecificSites  = 10
)

// Config holds the mapping thresholds and the annotation tracks the lookup may
// use. It is a value: copy and modify, never share a pointer to mutate.
type Config struct {
	BlatScoreThreshold                     float64
	IdentityThreshold                      float64
	MaximumRepeatFraction                  float64
	MinimumExonOverlapFraction             float64
	NonSpecificSiteCountThreshold          int
	NonRepeatNonSpecificSiteCountThreshold int
	TrimNonCanonicalChromosomeHits         bool

	UseRefGene   bool
	UseKnownGene bool
	UseEnsembl   bool
	UseMRNAs     bool
	UseESTs      bool
}

func DefaultConfig() Config {
	return Config{
		BlatScoreThreshold:                     DefaultBlatScoreThreshold,
		IdentityThreshold:                      DefaultIdentityThreshold,
		MaximumRepeatFraction:                  DefaultMaximumRepeatFraction,
		MinimumExonOverlapFraction:             DefaultMinimumExonOverlapFraction,
		NonSpecificSiteCountThreshold:          DefaultNonSpecificSiteThreshold,
		NonRepeatNonSpecificSiteCountThreshold: DefaultNonRepeatNonSpecificSites,
		TrimNonCanonicalChromosomeHits:         true,
		UseRefGene:                             true,
		UseKnownGene:                           true,
	}
}

func (c Config) Validate() error {
	fractions := []struct {
		name  string
		value float64
	}{
		{"blat score threshold", c.BlatScoreThreshold},
		{"identity threshold", c.IdentityThreshold},
		{"maximum repeat fraction", c.MaximumRepeatFraction},
		{"minimum exon overlap fraction", c.MinimumExonOverlapFraction},
	}
	for _, f := range fractions {
		if f.value < 0 || f.value > 1 {
			return fmt.Errorf("%s must be in [0,1], got %g", f.name, f.value)
		}
	}
	if c.NonSpecificSiteCountThreshold < 1 {
		return fmt.Errorf("non-specific site count threshold must be positive, got %d", c.NonSpecificSiteCountThreshold)
	}
	if c.NonRepeatNonSpecificSiteCountThreshold < 1 {
		return fmt.Errorf("non-repeat non-specific site count threshold must be positive, got %d", c.NonRepeatNonSpecificSiteCountThreshold)
	}
	if !c.UseRefGene && !c.UseKnownGene && !c.UseEnsembl && !c.UseMRNAs && !c.UseESTs {
		return fmt.Errorf("no annotation tracks enabled")
	}
	return nil
}

// Track letters for ParseTrackConfig.
const (
	TrackRefGene   = 'r'
	TrackKnownGene = 'k'
	TrackEST       = 'e'
	TrackMRNA      = 'm'
	TrackEnsembl   = 'E'
)

// ParseTrackConfig replaces the track selection of c with the letters in
// tracks, e.g. "rk" or "rkemE".
func (c Config) ParseTrackConfig(tracks string) (Config, error) {
	tracks = strings.TrimSpace(tracks)
	if tracks == "" {
		return c, fmt.Errorf("empty track configuration")
	}
	c.UseRefGene, c.UseKnownGene, c.UseEnsembl, c.UseMRNAs, c.UseESTs = false, false, false, false, false
	for _, r := range tracks {
		switch r {
		case TrackRefGene:
			c.UseRefGene = true
		case TrackKnownGene:
			c.UseKnownGene = true
		case TrackEST:
			c.UseESTs = true
		case TrackMRNA:
			c.UseMRNAs = true
		case TrackEnsembl:
			c.UseEnsembl = true
		default:
			return c, fmt.Errorf("unknown track option %q in %q", r, tracks)
		}
	}
	return c, nil
}

func (c Config) TrackString() string {
	var b strings.Builder
	for _, t := range []struct {
		on bool
		r  rune
	}{
		{c.UseRefGene, TrackRefGene},
		{c.UseKnownGene, TrackKnownGene},
		{c.UseESTs, TrackEST},
		{c.UseMRNAs, TrackMRNA},
		{c.UseEnsembl, TrackEnsembl},
	} {
		if t.on {
			b.WriteRune(t.r)
		}
	}
	return b.String()
}
