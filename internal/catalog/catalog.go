// Package catalog holds the static pricing table: which subscription tier
// grants how many monthly invocations of each generator feature.
package catalog

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownTier    = errors.New("unknown tier")
	ErrUnknownFeature = errors.New("unknown feature")
)

// Version identifies the pricing table below. Bump it whenever a limit changes.
const Version = "2024-09"

// Tier is a subscription level. Strings only become a Tier through ParseTier
// or NormalizeTier.
type Tier string

const (
	TierFree    Tier = "free"
	TierBasic   Tier = "basic"
	TierPro     Tier = "pro"
	TierCreator Tier = "creator"
)

var tiers = []Tier{TierFree, TierBasic, TierPro, TierCreator}

// Tiers returns every tier ordered from lowest to highest.
func Tiers() []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	return out
}

// ParseTier converts a stored or user-supplied value into a Tier.
func ParseTier(s string) (Tier, error) {
	for _, t := range tiers {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownTier, s)
}

// NormalizeTier is the fail-closed variant of ParseTier: anything it does not
// recognise becomes TierFree.
func NormalizeTier(s string) Tier {
	t, err := ParseTier(s)
	if err != nil {
		return TierFree
	}
	return t
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	_, err := ParseTier(string(t))
	return err == nil
}

// Rank orders tiers for upgrade comparisons. Unknown tiers rank as free.
func (t Tier) Rank() int {
	for i, known := range tiers {
		if known == t {
			return i
		}
	}
	return 0
}

func (t Tier) String() string { return string(t) }

// Feature identifies one content-generation capability.
type Feature string

const (
	FeatureTitles        Feature = "titles"
	FeatureDescriptions  Feature = "descriptions"
	FeatureHashtags      Feature = "hashtags"
	FeatureIdeas         Feature = "ideas"
	FeatureScripts       Feature = "scripts"
	FeatureTweets        Feature = "tweets"
	FeatureYouTubePosts  Feature = "youtubePosts"
	FeatureRedditPosts   Feature = "redditPosts"
	FeatureLinkedInPosts Feature = "linkedinPosts"
)

var features = []Feature{
	FeatureTitles,
	FeatureDescriptions,
	FeatureHashtags,
	FeatureIdeas,
	FeatureScripts,
	FeatureTweets,
	FeatureYouTubePosts,
	FeatureRedditPosts,
	FeatureLinkedInPosts,
}

// AllFeatures returns the closed set of feature keys in display order.
func AllFeatures() []Feature {
	out := make([]Feature, len(features))
	copy(out, features)
	return out
}

// ParseFeature rejects anything outside the closed feature set.
func ParseFeature(s string) (Feature, error) {
	for _, f := range features {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownFeature, s)
}

func (f Feature) String() string { return string(f) }
