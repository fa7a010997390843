// Package score classifies news items and computes a composite trading
// relevance score. Pure functions only: no I/O, no mutable state beyond the
// static pattern tables.
package score

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/quantpulse/newsstack/internal/news"
)

// Result is the scoring output for one item at one cluster count. It is
// recomputed whenever the item's cluster count changes.
type Result struct {
	Category    string  `json:"category"`
	Impact      float64 `json:"impact"`   // base severity of the category, [0,1]
	Clarity     float64 `json:"clarity"`  // confidence the headline is unambiguous, [0,1]
	Polarity    float64 `json:"polarity"` // directional hint: -0.5, 0, +0.5
	Score       float64 `json:"score"`    // composite ranking value, [0,1]
	ClusterHash string  `json:"cluster_hash"`
}

// Composite weights. Impact dominates; novelty is the tie-breaker.
const (
	impactWeight  = 0.55
	clarityWeight = 0.25
	noveltyWeight = 0.20
)

// NoveltyFloor keeps heavily repeated stories from decaying to zero.
const NoveltyFloor = 0.15

// category holds one entry of the ordered classification table.
// First regex match wins, so stronger categories must come first: a trading
// halt headline often also matches weaker patterns.
type category struct {
	name   string
	impact float64
	re     *regexp.Regexp
}

var categories = []category{
	{"halt", 0.95, regexp.MustCompile(`(?i)\b(trading )?halt(ed|s)?\b|\bvolatility pause\b`)},
	{"fda", 0.90, regexp.MustCompile(`(?i)\bfda\b|\bphase (1|2|3|i{1,3})\b|clinical trial|approval|complete response letter|\bcrl\b`)},
	{"mna", 0.88, regexp.MustCompile(`(?i)\bmerger\b|\bacquisition\b|\bacquires?\b|\bto acquire\b|\bbuyout\b|\btakeover\b|\btender offer\b`)},
	{"offering", 0.85, regexp.MustCompile(`(?i)\boffering\b|\bdilut(ion|ive)\b|\bregistered direct\b|\bprivate placement\b|\bat-the-market\b|\bpricing of\b`)},
	{"earnings", 0.75, regexp.MustCompile(`(?i)\bearnings\b|\bquarterly results\b|\beps\b|\brevenue\b|\bq[1-4]\b.*\bresults\b|\bfull[- ]year results\b`)},
	{"guidance", 0.70, regexp.MustCompile(`(?i)\bguidance\b|\boutlook\b|\bforecast\b|\braises? (its )?(full[- ]year|fy)\b|\blowers? (its )?(full[- ]year|fy)\b`)},
	{"legal", 0.65, regexp.MustCompile(`(?i)\blawsuit\b|\bsec (probe|investigation|charges)\b|\bsubpoena\b|\bsettl(es?|ement)\b|\bclass action\b|\bfraud\b`)},
	{"analyst", 0.55, regexp.MustCompile(`(?i)\bupgrade(s|d)?\b|\bdowngrade(s|d)?\b|\binitiates? coverage\b|\bprice target\b|\boverweight\b|\bunderweight\b`)},
	{"insider", 0.50, regexp.MustCompile(`(?i)\binsider (buy|sell)ing\b|\b(ceo|cfo|director) (buys?|sells?)\b|\b10b5-1\b`)},
	{"buyback", 0.50, regexp.MustCompile(`(?i)\bbuyback\b|\bshare repurchase\b|\bdividend\b`)},
	{"contract", 0.45, regexp.MustCompile(`(?i)\bcontract award\b|\bwins? (a )?contract\b|\bpartnership\b|\bcollaboration\b`)},
	{"macro", 0.40, regexp.MustCompile(`(?i)\bfed\b|\bfomc\b|\bcpi\b|\binflation\b|\brate (cut|hike)\b|\bjobs report\b|\bpayrolls\b`)},
}

// Categories in this set get a clarity bonus: their headlines leave little
// room for interpretation.
var highStakes = map[string]bool{
	"halt":     true,
	"offering": true,
	"mna":      true,
	"fda":      true,
}

const (
	otherCategory = "other"
	otherImpact   = 0.10
)

var (
	numericRe    = regexp.MustCompile(`\d+(\.\d+)?`)
	whitespaceRe = regexp.MustCompile(`\s+`)

	positiveRe = regexp.MustCompile(`(?i)\bbeat(s)?\b|\braise(s|d)?\b|\bapprov(al|ed|es)\b|\bupgrade(s|d)?\b|\bwins?\b|\bsurge(s|d)?\b|\brecord\b|\bexceeds?\b|\bstrong\b`)
	negativeRe = regexp.MustCompile(`(?i)\bmiss(es|ed)?\b|\bcut(s)?\b|\bdowngrade(s|d)?\b|\bhalt(ed)?\b|\brecall(s|ed)?\b|\bplunge(s|d)?\b|\blawsuit\b|\bdilut(ion|ive)\b|\bweak\b|\bwarns?\b`)
)

// ClusterHash fingerprints the story a headline belongs to, so near-identical
// coverage from different providers lands in the same cluster. Deterministic:
// ticker ordering, headline case, and surrounding whitespace never change the
// hash.
func ClusterHash(headline string, tickers []string) string {
	norm := whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(headline)), " ")

	uniq := make(map[string]bool, len(tickers))
	syms := make([]string, 0, len(tickers))
	for _, t := range tickers {
		sym := strings.ToUpper(strings.TrimSpace(t))
		if sym == "" || uniq[sym] {
			continue
		}
		uniq[sym] = true
		syms = append(syms, sym)
	}
	sort.Strings(syms)

	h := sha1.Sum([]byte(norm + "|" + strings.Join(syms, ",")))
	return hex.EncodeToString(h[:])
}

// Novelty decays as the same cluster reappears. The first occurrence
// (count=1) yields exactly 1.0; repeats approach but never reach zero.
func Novelty(clusterCount int) float64 {
	if clusterCount < 1 {
		clusterCount = 1
	}
	n := 1.0 / (0.8 + 0.35*float64(clusterCount-1))
	if n < NoveltyFloor {
		return NoveltyFloor
	}
	return n
}

// ClassifyAndScore computes the full score for an item given how many times
// its cluster has been seen. Call exactly once per item per cluster touch;
// recomputing after a second touch double-counts the novelty decay.
func ClassifyAndScore(item news.Item, clusterCount int) Result {
	headline := item.Headline

	cat, impact := classify(headline)

	clarity := 0.60
	if numericRe.MatchString(headline) {
		clarity += 0.20
	}
	if highStakes[cat] {
		clarity += 0.10
	}
	if clarity > 1.0 {
		clarity = 1.0
	}

	polarity := 0.0
	pos := positiveRe.MatchString(headline)
	neg := negativeRe.MatchString(headline)
	switch {
	case pos && !neg:
		polarity = 0.5
	case neg && !pos:
		polarity = -0.5
	}

	novelty := Novelty(clusterCount)

	return Result{
		Category:    cat,
		Impact:      impact,
		Clarity:     clarity,
		Polarity:    polarity,
		Score:       clamp01(impact*impactWeight + clarity*clarityWeight + novelty*noveltyWeight),
		ClusterHash: ClusterHash(headline, item.Tickers),
	}
}

func classify(headline string) (string, float64) {
	for _, c := range categories {
		if c.re.MatchString(headline) {
			return c.name, c.impact
		}
	}
	return otherCategory, otherImpact
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
