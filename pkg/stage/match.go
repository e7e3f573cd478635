package stage

import (
	"slices"
	"strings"

	"github.com/aretw0/canopy/pkg/domain"
)

// MatchCategory selects suites of the given categories.
func MatchCategory(categories ...domain.StageCategory) domain.SuiteMatcher {
	return func(ref domain.SuiteRef) bool {
		return slices.Contains(categories, ref.Category)
	}
}

// MatchPrefix selects suites whose ID starts with one of the prefixes.
func MatchPrefix(prefixes ...string) domain.SuiteMatcher {
	return func(ref domain.SuiteRef) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(ref.ID, p) {
				return true
			}
		}
		return false
	}
}

// MatchIDs selects suites by exact ID.
func MatchIDs(ids ...string) domain.SuiteMatcher {
	return func(ref domain.SuiteRef) bool {
		return slices.Contains(ids, ref.ID)
	}
}

// MatchService selects suites targeting the given services.
func MatchService(services ...string) domain.SuiteMatcher {
	return func(ref domain.SuiteRef) bool {
		return slices.Contains(services, ref.Service)
	}
}

// All selects suites matched by every matcher.
func All(matchers ...domain.SuiteMatcher) domain.SuiteMatcher {
	return func(ref domain.SuiteRef) bool {
		for _, m := range matchers {
			if !m(ref) {
				return false
			}
		}
		return true
	}
}
