package catalog

// QuotaTable maps a tier to its monthly limit per feature. A missing entry
// means the feature is not entitled at that tier.
type QuotaTable map[Tier]map[Feature]int

// DefaultQuotas is the live pricing table.
var DefaultQuotas = QuotaTable{
	TierFree: {
		FeatureTitles:       5,
		FeatureDescriptions: 5,
		FeatureHashtags:     5,
		FeatureIdeas:        3,
	},
	TierBasic: {
		FeatureTitles:       30,
		FeatureDescriptions: 30,
		FeatureHashtags:     30,
		FeatureIdeas:        20,
		FeatureScripts:      10,
		FeatureTweets:       20,
	},
	TierPro: {
		FeatureTitles:        2000,
		FeatureDescriptions:  2000,
		FeatureHashtags:      2000,
		FeatureIdeas:         1000,
		FeatureScripts:       500,
		FeatureTweets:        1000,
		FeatureYouTubePosts:  500,
		FeatureRedditPosts:   500,
		FeatureLinkedInPosts: 500,
	},
	TierCreator: {
		FeatureTitles:        5000,
		FeatureDescriptions:  5000,
		FeatureHashtags:      5000,
		FeatureIdeas:         3000,
		FeatureScripts:       2000,
		FeatureTweets:        3000,
		FeatureYouTubePosts:  2000,
		FeatureRedditPosts:   2000,
		FeatureLinkedInPosts: 2000,
	},
}

// LimitFor returns the monthly limit for a tier and feature. Unknown tiers
// use the free row and unknown features get 0, so the result never grants
// more than the table says.
func (q QuotaTable) LimitFor(tier Tier, feature Feature) int {
	row, ok := q[tier]
	if !ok {
		row = q[TierFree]
	}
	limit := row[feature]
	if limit < 0 {
		return 0
	}
	return limit
}

// Entitled reports whether the tier grants any access to the feature.
func (q QuotaTable) Entitled(tier Tier, feature Feature) bool {
	return q.LimitFor(tier, feature) > 0
}

// LimitFor looks up DefaultQuotas.
func LimitFor(tier Tier, feature Feature) int {
	return DefaultQuotas.LimitFor(tier, feature)
}

// Entitled looks up DefaultQuotas.
func Entitled(tier Tier, feature Feature) bool {
	return DefaultQuotas.Entitled(tier, feature)
}
