package enrich

import "strings"

// Closed category sets the model must choose from.
var (
	Topics = []string{
		"Social and Economy",
		"Infrastructure and Transportation",
		"Public Health",
		"Environment and Disaster",
		"Safety and Crime",
		"Government and Public Policy",
		"Technology and Innovation",
		"City Planning and Housing",
		"Education and Culture",
		"Tourism and Entertainment",
		"Ecology and Green Spaces",
	}

	Sentiments = []string{"Positive", "Neutral", "Negative"}

	Audiences = []string{
		"Traditional Market Vendors",
		"Business Owners",
		"Local Government",
		"General Public",
		"Healthcare Workers",
		"Environmental Agencies",
		"Public Transport Users",
		"Tourists",
		"Students and Educators",
		"Technology Enthusiasts",
		"Safety and Security Agencies",
	}

	Regions = []string{
		"DKI Jakarta",
		"South Jakarta",
		"North Jakarta",
		"East Jakarta",
		"West Jakarta",
		"Central Jakarta",
	}
)

// MaxKeywords caps contextual_keywords per record.
const MaxKeywords = 5

type enumSet map[string]string

// newEnumSet indexes values case-insensitively, mapping back to the canonical spelling.
func newEnumSet(values []string) enumSet {
	set := make(enumSet, len(values))
	for _, v := range values {
		set[normalizeEnum(v)] = v
	}
	return set
}

func (s enumSet) canonical(v string) (string, bool) {
	c, ok := s[normalizeEnum(v)]
	return c, ok
}

var (
	topicSet     = newEnumSet(Topics)
	sentimentSet = newEnumSet(Sentiments)
	audienceSet  = newEnumSet(Audiences)
	regionSet    = newEnumSet(Regions)
)

func normalizeEnum(v string) string {
	return strings.ToLower(strings.Join(strings.Fields(v), " "))
}
