package retrieval

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/yungbote/lexgraph-backend/internal/platform/logger"
)

// Grounding thresholds. A single invalid citation disqualifies grounding
// regardless of ratio, so these only matter once every citation resolves.
const (
	groundingRatioThreshold = 0.7
	strictCoverageThreshold = 0.5
	fallbackSourceLimit     = 10
	fallbackExcerptRunes    = 200
)

// CitationExtractor pulls citation tokens out of generated text. Extraction
// is heuristic by nature; keeping it behind an interface lets a structured
// citation-tag extractor replace the regex one without touching scoring.
type CitationExtractor interface {
	Extract(text string) []string
}

var (
	bracketCitationRe   = regexp.MustCompile(`\[([A-Za-z0-9][\w.:-]*)\]`)
	parenCitationRe     = regexp.MustCompile(`\(([A-Za-z][\w.:-]*\d[\w.:-]*)\)`)
	articleCitationRe   = regexp.MustCompile(`(?i)\barticle\s+(\d+[A-Za-z]?)\b`)
	provisionCitationRe = regexp.MustCompile(`(?i)\bprovision\s+([A-Za-z0-9][\w.:-]*)\b`)
)

// RegexCitationExtractor matches bracketed/parenthesized identifiers plus
// "Article N" and "provision X" phrasing. Tokens are deduplicated in first
// occurrence order.
type RegexCitationExtractor struct{}

func (RegexCitationExtractor) Extract(text string) []string {
	var tokens []string
	seen := map[string]bool{}
	add := func(token string) {
		token = strings.TrimSpace(token)
		if token == "" || seen[token] {
			return
		}
		seen[token] = true
		tokens = append(tokens, token)
	}
	for _, re := range []*regexp.Regexp{bracketCitationRe, parenCitationRe, articleCitationRe, provisionCitationRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			add(m[1])
		}
	}
	return tokens
}

// GroundingReport is the verdict on one piece of generated text.
type GroundingReport struct {
	IsGrounded       bool     `json:"is_grounded"`
	CitationCount    int      `json:"citation_count"`
	ValidCitations   []string `json:"valid_citations"`
	InvalidCitations []string `json:"invalid_citations"`
	GroundingRatio   float64  `json:"grounding_ratio"`
	CoverageRatio    float64  `json:"coverage_ratio"`
}

// GroundingValidator cross-checks extracted citations against the nodes a
// retrieval actually returned.
type GroundingValidator struct {
	extractor CitationExtractor
	log       *logger.Logger
}

func NewGroundingValidator(log *logger.Logger, extractor CitationExtractor) *GroundingValidator {
	if extractor == nil {
		extractor = RegexCitationExtractor{}
	}
	return &GroundingValidator{
		extractor: extractor,
		log:       log.With("service", "GroundingValidator"),
	}
}

// Score computes the grounding verdict for generatedText against the node
// set in results. A citation token resolves either directly to a node id or
// through a provision's article number. minCitations below 1 is treated
// as 1.
func (g *GroundingValidator) Score(generatedText string, results *ResultSet, minCitations int) GroundingReport {
	if minCitations < 1 {
		minCitations = 1
	}

	available := results.nodeIDs()
	byNumber := results.numberIndex()

	cited := g.extractor.Extract(generatedText)
	valid := make([]string, 0, len(cited))
	invalid := make([]string, 0)
	citedNodes := map[string]bool{}
	for _, token := range cited {
		if available[token] {
			valid = append(valid, token)
			citedNodes[token] = true
			continue
		}
		if id, ok := byNumber[strings.ToLower(token)]; ok {
			valid = append(valid, token)
			citedNodes[id] = true
			continue
		}
		invalid = append(invalid, token)
	}

	report := GroundingReport{
		CitationCount:    len(cited),
		ValidCitations:   valid,
		InvalidCitations: invalid,
		GroundingRatio:   float64(len(valid)) / float64(max(len(cited), 1)),
		CoverageRatio:    float64(len(citedNodes)) / float64(max(len(available), 1)),
	}
	report.IsGrounded = len(valid) >= minCitations &&
		report.GroundingRatio >= groundingRatioThreshold &&
		len(invalid) == 0
	return report
}

// ValidateAnswerGrounding applies the base grounding check, plus a coverage
// floor in strict mode: at least half of all retrieved nodes must be cited.
func (g *GroundingValidator) ValidateAnswerGrounding(text string, sources *ResultSet, strict bool) GroundingReport {
	report := g.Score(text, sources, 1)
	if strict && report.CoverageRatio < strictCoverageThreshold {
		report.IsGrounded = false
	}
	if !report.IsGrounded {
		g.log.Debug("answer failed grounding",
			"citations", report.CitationCount,
			"invalid", len(report.InvalidCitations),
			"grounding_ratio", report.GroundingRatio,
			"coverage_ratio", report.CoverageRatio,
			"strict", strict,
		)
	}
	return report
}

// FallbackSourcesOnly renders an uninterpreted listing of up to 10 retrieved
// sources. This is the mandated degradation path when grounding fails;
// answers are never silently suppressed.
func FallbackSourcesOnly(results *ResultSet) string {
	sources := results.flattenSources()
	if len(sources) > fallbackSourceLimit {
		sources = sources[:fallbackSourceLimit]
	}
	if len(sources) == 0 {
		return "No sources were retrieved for this query."
	}

	var b strings.Builder
	b.WriteString("Retrieved sources:\n")
	for i, src := range sources {
		b.WriteString(fmt.Sprintf("%d. %s", i+1, src.Provision.ID))
		if src.Provision.Number != "" {
			b.WriteString(fmt.Sprintf(" (Article %s)", src.Provision.Number))
		}
		if src.Instrument != nil && src.Instrument.Title != "" {
			b.WriteString(" — " + src.Instrument.Title)
		}
		// Cosine scores can be negative; only sources that never went
		// through a scored search omit the tag.
		if src.SearchType != "" {
			b.WriteString(fmt.Sprintf(" [relevance %.3f]", src.Score))
		}
		b.WriteString("\n")
		if excerpt := excerptText(src.Provision.Text); excerpt != "" {
			b.WriteString("   " + excerpt + "\n")
		}
	}
	return b.String()
}

func excerptText(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= fallbackExcerptRunes {
		return text
	}
	return string(runes[:fallbackExcerptRunes]) + "…"
}

// nodeIDs flattens every Provision/neighbor node id present anywhere in the
// result set.
func (r *ResultSet) nodeIDs() map[string]bool {
	ids := map[string]bool{}
	if r == nil {
		return ids
	}
	add := func(id string) {
		if id != "" {
			ids[id] = true
		}
	}
	for _, s := range r.Seeds {
		add(s.Provision.ID)
	}
	if r.Local != nil {
		if r.Local.Seed != nil {
			add(r.Local.Seed.Provision.ID)
		}
		for _, n := range r.Local.Neighbors {
			add(n.Node.ID)
		}
	}
	for _, c := range r.Communities {
		for _, n := range c.SampleNodes {
			add(n.ID)
		}
	}
	if r.Drift != nil {
		for _, s := range r.Drift.SemanticSeeds {
			add(s.Provision.ID)
		}
		for _, c := range r.Drift.CommunityResults {
			for _, p := range c.ProvisionsExplored {
				add(p.ID)
			}
			for _, n := range c.Paths {
				add(n.Node.ID)
			}
		}
	}
	return ids
}

// numberIndex maps lowercase article numbers to provision ids so "Article N"
// citations resolve.
func (r *ResultSet) numberIndex() map[string]string {
	index := map[string]string{}
	if r == nil {
		return index
	}
	add := func(number, id string) {
		number = strings.ToLower(strings.TrimSpace(number))
		if number == "" || id == "" {
			return
		}
		if _, ok := index[number]; !ok {
			index[number] = id
		}
	}
	for _, s := range r.Seeds {
		add(s.Provision.Number, s.Provision.ID)
	}
	if r.Local != nil && r.Local.Seed != nil {
		add(r.Local.Seed.Provision.Number, r.Local.Seed.Provision.ID)
	}
	if r.Drift != nil {
		for _, s := range r.Drift.SemanticSeeds {
			add(s.Provision.Number, s.Provision.ID)
		}
		for _, c := range r.Drift.CommunityResults {
			for _, p := range c.ProvisionsExplored {
				add(p.Number, p.ID)
			}
		}
	}
	return index
}

// flattenSources collects scored provisions across the result set, highest
// score first, deduplicated by id.
func (r *ResultSet) flattenSources() []ScoredProvision {
	if r == nil {
		return nil
	}
	var all []ScoredProvision
	seen := map[string]bool{}
	add := func(sp ScoredProvision) {
		if sp.Provision.ID == "" || seen[sp.Provision.ID] {
			return
		}
		seen[sp.Provision.ID] = true
		all = append(all, sp)
	}
	for _, s := range r.Seeds {
		add(s)
	}
	if r.Local != nil && r.Local.Seed != nil {
		add(*r.Local.Seed)
	}
	if r.Drift != nil {
		for _, s := range r.Drift.SemanticSeeds {
			add(s)
		}
		for _, c := range r.Drift.CommunityResults {
			for _, p := range c.ProvisionsExplored {
				add(ScoredProvision{Provision: p})
			}
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	return all
}
