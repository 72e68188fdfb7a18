// Package assign scores agents against tasks and picks an assignee while
// honouring protected domains and WIP caps.
package assign

import (
	"sort"
	"strings"
	"unicode"

	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/pkg/blackboard"
)

// Score weights.
const (
	overCapPenalty   = -0.5
	perTaskPenalty   = -0.05
	perCompletion    = 0.05
	maxThroughput    = 0.15
	minKeywordLength = 3
)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true, "into": true,
	"that": true, "this": true, "when": true, "then": true, "not": true, "are": true,
	"was": true, "has": true, "have": true, "all": true, "any": true, "should": true,
	"must": true, "will": true, "task": true,
}

// Agent is a registry entry.
type Agent struct {
	Name             string
	Role             string
	AffinityTags     []string
	ProtectedDomains []string
	WipCap           int // 0 = unlimited
}

// AgentsFromConfig converts the configured registry to agents ordered by name.
func AgentsFromConfig(agents map[string]config.Agent) []Agent {
	out := make([]Agent, 0, len(agents))
	for name, a := range agents {
		out = append(out, Agent{
			Name:             name,
			Role:             a.Role,
			AffinityTags:     a.AffinityTags,
			ProtectedDomains: a.ProtectedDomains,
			WipCap:           a.WipCap,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AssignmentScore is the breakdown of one agent's fit for one task.
type AssignmentScore struct {
	Agent      string  `json:"agent"`
	Affinity   float64 `json:"affinity"`
	WipPenalty float64 `json:"wip_penalty"`
	Throughput float64 `json:"throughput"`
	Score      float64 `json:"score"`
	OverCap    bool    `json:"over_cap"`
}

// ScoreAssignment scores agent for task given its current WIP and the number
// of tasks it completed recently.
func ScoreAssignment(agent Agent, task *blackboard.Task, currentWip, recentCompletions int) AssignmentScore {
	keywords := Keywords(task)

	matched := 0
	for _, tag := range agent.AffinityTags {
		if keywords[strings.ToLower(tag)] {
			matched++
		}
	}
	denom := len(agent.AffinityTags)
	if len(keywords) < denom {
		denom = len(keywords)
	}
	if denom < 1 {
		denom = 1
	}
	affinity := float64(matched) / float64(denom)
	if affinity > 1 {
		affinity = 1
	}

	overCap := agent.WipCap > 0 && currentWip >= agent.WipCap
	penalty := perTaskPenalty * float64(currentWip)
	if overCap {
		penalty = overCapPenalty
	}

	throughput := perCompletion * float64(recentCompletions)
	if throughput > maxThroughput {
		throughput = maxThroughput
	}

	return AssignmentScore{
		Agent:      agent.Name,
		Affinity:   affinity,
		WipPenalty: penalty,
		Throughput: throughput,
		Score:      affinity + penalty + throughput,
		OverCap:    overCap,
	}
}

// Keywords extracts the matchable vocabulary of a task from its title, tags
// and done criteria. Prefixed tags such as "stage:deploy" contribute both the
// whole tag and its value.
func Keywords(task *blackboard.Task) map[string]bool {
	out := make(map[string]bool)
	add := func(text string) {
		for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			if len(tok) >= minKeywordLength && !stopWords[tok] {
				out[tok] = true
			}
		}
	}

	add(task.Title)
	add(task.DoneCriteria)
	for _, tag := range task.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		out[tag] = true
		if _, value, ok := strings.Cut(tag, ":"); ok && value != "" {
			out[value] = true
		}
		add(tag)
	}
	return out
}

// WipCheck reports whether an agent can take more work.
type WipCheck struct {
	Agent     string `json:"agent"`
	Current   int    `json:"current"`
	Cap       int    `json:"cap"`
	Allowed   bool   `json:"allowed"`
	Remaining int    `json:"remaining"` // -1 when uncapped
}

// CheckWipCap evaluates agent's cap against currentWip.
func CheckWipCap(agent Agent, currentWip int) WipCheck {
	check := WipCheck{Agent: agent.Name, Current: currentWip, Cap: agent.WipCap, Allowed: true, Remaining: -1}
	if agent.WipCap > 0 {
		check.Remaining = agent.WipCap - currentWip
		if check.Remaining < 0 {
			check.Remaining = 0
		}
		check.Allowed = currentWip < agent.WipCap
	}
	return check
}

// Candidate is an agent together with its current load.
type Candidate struct {
	Agent             Agent
	CurrentWip        int
	RecentCompletions int
}

// Suggestion reasons.
const (
	ReasonOverride       = "override"
	ReasonProtected      = "protected_domain"
	ReasonProtectedAtCap = "protected_owner_at_cap"
	ReasonBestScore      = "best_score"
	ReasonNoCandidate    = "no_eligible_candidate"
)

// Suggestion is the outcome of SuggestAssignee. Agent is empty when nobody
// should take the task.
type Suggestion struct {
	Agent  string            `json:"agent,omitempty"`
	Reason string            `json:"reason"`
	Scores []AssignmentScore `json:"scores,omitempty"`
}

// SuggestAssignee picks an assignee for task. A non-empty override always
// wins. A task tagged with a protected domain goes to the domain owner or to
// nobody if the owner is at cap. Otherwise the best positive score among
// candidates under cap wins, ties broken by name.
func SuggestAssignee(task *blackboard.Task, candidates []Candidate, override string) Suggestion {
	if override != "" {
		return Suggestion{Agent: override, Reason: ReasonOverride}
	}

	sorted := append([]Candidate(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Agent.Name < sorted[j].Agent.Name })

	if owner, ok := protectedOwner(task, sorted); ok {
		if !CheckWipCap(owner.Agent, owner.CurrentWip).Allowed {
			return Suggestion{Reason: ReasonProtectedAtCap}
		}
		return Suggestion{Agent: owner.Agent.Name, Reason: ReasonProtected}
	}

	suggestion := Suggestion{Reason: ReasonNoCandidate}
	best := 0.0
	for _, c := range sorted {
		s := ScoreAssignment(c.Agent, task, c.CurrentWip, c.RecentCompletions)
		suggestion.Scores = append(suggestion.Scores, s)
		if s.OverCap || s.Score <= 0 {
			continue
		}
		if s.Score > best {
			best = s.Score
			suggestion.Agent = c.Agent.Name
			suggestion.Reason = ReasonBestScore
		}
	}
	return suggestion
}

// ProtectedFor reports whether task is protected for an agent other than name.
func ProtectedFor(task *blackboard.Task, agents []Agent, name string) bool {
	candidates := make([]Candidate, len(agents))
	for i, a := range agents {
		candidates[i] = Candidate{Agent: a}
	}
	owner, ok := protectedOwner(task, candidates)
	return ok && owner.Agent.Name != name
}

func protectedOwner(task *blackboard.Task, candidates []Candidate) (Candidate, bool) {
	domains := make(map[string]bool)
	for _, tag := range task.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		domains[tag] = true
		if _, value, ok := strings.Cut(tag, ":"); ok {
			domains[value] = true
		}
	}
	for _, c := range candidates {
		for _, d := range c.Agent.ProtectedDomains {
			if domains[strings.ToLower(d)] {
				return c, true
			}
		}
	}
	return Candidate{}, false
}
