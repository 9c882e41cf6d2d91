package routing

import "contact-center/internal/agents"

// Experience bonuses added to the skill overlap ratio.
var experienceBonus = map[agents.Experience]float64{
	agents.ExperienceJunior: 0.1,
	agents.ExperienceMid:    0.2,
	agents.ExperienceSenior: 0.3,
	agents.ExperienceExpert: 0.4,
}

// Reported scores for the non-skill tiers.
const (
	languageScore   = 0.7
	geographicScore = 0.5
	leastBusyScore  = 0.3
)

// Match is a selected candidate.
type Match struct {
	Agent  agents.Agent
	Method Method
	Score  float64
}

// Select runs the tier ladder over candidates and returns the best match.
//
//  1. skill match (required skills set): overlap ratio + experience bonus
//  2. language match (preferred language set): least utilized speaker
//  3. geographic match (region set): least utilized in region
//  4. least busy: least utilized overall
//
// Only dispatchable candidates are considered. Select has no side effects.
func Select(candidates []agents.Agent, req Request) (Match, bool) {
	req = req.normalized()

	pool := make([]agents.Agent, 0, len(candidates))
	for _, a := range candidates {
		if a.Dispatchable() {
			pool = append(pool, a)
		}
	}
	if len(pool) == 0 {
		return Match{}, false
	}

	if len(req.RequiredSkills) > 0 {
		if m, ok := bestBySkill(pool, req.RequiredSkills); ok {
			return m, true
		}
	}
	if req.PreferredLanguage != "" {
		if a, ok := leastUtilized(pool, func(a agents.Agent) bool { return hasTag(a.Languages, req.PreferredLanguage) }); ok {
			return Match{Agent: a, Method: MethodLanguage, Score: languageScore}, true
		}
	}
	if req.Region != "" {
		if a, ok := leastUtilized(pool, func(a agents.Agent) bool { return hasTag(a.Regions, req.Region) }); ok {
			return Match{Agent: a, Method: MethodGeographic, Score: geographicScore}, true
		}
	}
	a, _ := leastUtilized(pool, nil)
	return Match{Agent: a, Method: MethodLeastBusy, Score: leastBusyScore}, true
}

// SkillScore is |skills ∩ required| / |required| + experience bonus.
// Agents without any overlap score 0.
func SkillScore(a agents.Agent, required []string) float64 {
	if len(required) == 0 {
		return 0
	}
	overlap := 0
	for _, s := range required {
		if hasTag(a.Skills, s) {
			overlap++
		}
	}
	if overlap == 0 {
		return 0
	}
	return float64(overlap)/float64(len(required)) + experienceBonus[a.Experience]
}

func bestBySkill(pool []agents.Agent, required []string) (Match, bool) {
	var best agents.Agent
	bestScore := 0.0
	found := false
	for _, a := range pool {
		score := SkillScore(a, required)
		if score == 0 {
			continue
		}
		if !found || score > bestScore || (score == bestScore && preferred(a, best)) {
			best, bestScore, found = a, score, true
		}
	}
	if !found {
		return Match{}, false
	}
	if bestScore > 1 {
		bestScore = 1
	}
	return Match{Agent: best, Method: MethodSkill, Score: bestScore}, true
}

func leastUtilized(pool []agents.Agent, keep func(agents.Agent) bool) (agents.Agent, bool) {
	var best agents.Agent
	found := false
	for _, a := range pool {
		if keep != nil && !keep(a) {
			continue
		}
		if !found || preferred(a, best) {
			best, found = a, true
		}
	}
	return best, found
}

// preferred orders equally scored agents: lower utilization, then higher
// priority weight, then agent id for a stable result.
func preferred(a, b agents.Agent) bool {
	ua, ub := a.Utilization(), b.Utilization()
	if ua != ub {
		return ua < ub
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.ID < b.ID
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
