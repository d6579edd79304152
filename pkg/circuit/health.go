package circuit

import "strings"

// HealthCategory classifies a set of breakers for dashboards.
type HealthCategory string

const (
	HealthHealthy    HealthCategory = "healthy"
	HealthDegraded   HealthCategory = "degraded"
	HealthRecovering HealthCategory = "recovering"
	HealthUnhealthy  HealthCategory = "unhealthy"
	HealthUnknown    HealthCategory = "unknown"
)

// breakerHealth maps one breaker's state to a category.
func breakerHealth(s State) HealthCategory {
	switch s {
	case StateClosed:
		return HealthHealthy
	case StateHalfOpen:
		return HealthRecovering
	case StateOpen:
		return HealthUnhealthy
	default:
		return HealthUnknown
	}
}

// CategorizeHealth rolls a set of breaker snapshots up into one category:
// all healthy → healthy; any unhealthy → unhealthy; else any recovering →
// recovering; non-empty mixed/unknown → degraded; empty → unknown.
func CategorizeHealth(statuses map[string]Status) HealthCategory {
	if len(statuses) == 0 {
		return HealthUnknown
	}

	healthy, recovering, unhealthy := 0, 0, 0
	for _, st := range statuses {
		switch breakerHealth(st.State) {
		case HealthHealthy:
			healthy++
		case HealthRecovering:
			recovering++
		case HealthUnhealthy:
			unhealthy++
		}
	}

	switch {
	case unhealthy > 0:
		return HealthUnhealthy
	case healthy == len(statuses):
		return HealthHealthy
	case recovering > 0:
		return HealthRecovering
	default:
		return HealthDegraded
	}
}

// Service groups for dashboard categorization of circuits by name keyword.
const (
	CategoryLLM         = "llm"
	CategoryDatabase    = "database"
	CategoryExternalAPI = "external_api"
	CategoryOther       = "other"
)

// CategorizeCircuit buckets a breaker name into a service group. The
// keyword rules are authoritative for dashboards.
func CategorizeCircuit(name string) string {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "llm"):
		return CategoryLLM
	case strings.Contains(n, "postgres"),
		strings.Contains(n, "clickhouse"),
		strings.Contains(n, "db_"):
		return CategoryDatabase
	case strings.Contains(n, "http_"),
		strings.Contains(n, "api"),
		strings.Contains(n, "google"),
		strings.Contains(n, "openai"):
		return CategoryExternalAPI
	default:
		return CategoryOther
	}
}

// GroupByCategory splits a registry snapshot into the dashboard groups.
func GroupByCategory(statuses map[string]Status) map[string]map[string]Status {
	groups := make(map[string]map[string]Status)
	for name, st := range statuses {
		cat := CategorizeCircuit(name)
		if groups[cat] == nil {
			groups[cat] = make(map[string]Status)
		}
		groups[cat][name] = st
	}
	return groups
}
