package pipeline

import (
	"cmp"
	"encoding/json"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Verdict is the soft category of a review score. Only the threshold drives
// the loop; the verdict is informational.
type Verdict string

const (
	VerdictAccept      Verdict = "accept"
	VerdictConditional Verdict = "conditional"
	VerdictImprove     Verdict = "improve"
)

// ConditionalFloor is the lowest score labelled conditional.
const ConditionalFloor = 70

// VerdictFor labels a score against the accept threshold.
func VerdictFor(score, threshold float64) Verdict {
	switch {
	case score >= threshold:
		return VerdictAccept
	case score >= ConditionalFloor:
		return VerdictConditional
	}
	return VerdictImprove
}

// Axis is one review dimension and the points it carries out of 100.
type Axis struct {
	Name string  `json:"name"`
	Max  float64 `json:"max"`
}

// Axes are the review dimensions of the stock reviewer.
var Axes = []Axis{
	{Name: "hook", Max: 25},
	{Name: "structure", Max: 25},
	{Name: "specificity", Max: 20},
	{Name: "differentiation", Max: 15},
	{Name: "cta", Max: 15},
}

func axisMax(name string) float64 {
	for _, a := range Axes {
		if a.Name == name {
			return a.Max
		}
	}
	return 0
}

// WeakestAxes orders breakdown axes from the lowest share of their maximum
// to the highest. Unknown axes are compared on raw points out of 100.
func WeakestAxes(breakdown map[string]float64) []string {
	type share struct {
		name string
		frac float64
	}
	shares := make([]share, 0, len(breakdown))
	for name, pts := range breakdown {
		m := axisMax(name)
		if m <= 0 {
			m = 100
		}
		shares = append(shares, share{name: name, frac: pts / m})
	}
	slices.SortFunc(shares, func(a, b share) int {
		if c := cmp.Compare(a.frac, b.frac); c != 0 {
			return c
		}
		return strings.Compare(a.name, b.name)
	})
	out := make([]string, len(shares))
	for i, s := range shares {
		out[i] = s.name
	}
	return out
}

var (
	scoreKeys     = []string{"score", "total_score", "final_score", "total"}
	breakdownKeys = []string{"breakdown", "axes", "scores"}

	reJSONScore = regexp.MustCompile(`"(?:total_|final_)?score"\s*:\s*(\d+(?:\.\d+)?)`)
	reOutOf100  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*/\s*100`)
)

// ParseReview extracts a total score and optional per-axis breakdown from a
// review stage's output. Structured data wins, then a JSON object embedded in
// the text, then a "score": N pair, then an N/100 pattern. Scores outside
// 0..100 are ignored. ok is false when no score was found.
func ParseReview(text string, data map[string]any) (score float64, breakdown map[string]float64, ok bool) {
	if data != nil {
		if s, b, found := fromObject(data); found {
			return s, b, true
		}
	}
	if obj := embeddedJSON(text); obj != nil {
		if s, b, found := fromObject(obj); found {
			return s, b, true
		}
	}
	for _, re := range []*regexp.Regexp{reJSONScore, reOutOf100} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil && inRange(v) {
				return v, nil, true
			}
		}
	}
	return 0, nil, false
}

func fromObject(obj map[string]any) (float64, map[string]float64, bool) {
	var breakdown map[string]float64
	for _, k := range breakdownKeys {
		if raw, ok := obj[k].(map[string]any); ok {
			breakdown = numberMap(raw)
			break
		}
	}
	for _, k := range scoreKeys {
		if v, ok := number(obj[k]); ok && inRange(v) {
			return v, breakdown, true
		}
	}
	if len(breakdown) > 0 {
		var sum float64
		for _, v := range breakdown {
			sum += v
		}
		if inRange(sum) {
			return sum, breakdown, true
		}
	}
	return 0, nil, false
}

// numberMap accepts {"hook": 20} as well as {"hook": {"score": 20}}.
func numberMap(raw map[string]any) map[string]float64 {
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		if n, ok := number(v); ok {
			out[k] = n
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			if n, ok := number(nested["score"]); ok {
				out[k] = n
			}
		}
	}
	return out
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func inRange(v float64) bool { return v >= 0 && v <= 100 }

// embeddedJSON returns the first decodable JSON object in text, trying a
// fenced block first and then the widest brace span.
func embeddedJSON(text string) map[string]any {
	candidates := make([]string, 0, 2)
	if i := strings.Index(text, "```json"); i >= 0 {
		rest := text[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			candidates = append(candidates, rest[:j])
		}
	}
	if i, j := strings.Index(text, "{"), strings.LastIndex(text, "}"); i >= 0 && j > i {
		candidates = append(candidates, text[i:j+1])
	}
	for _, c := range candidates {
		var obj map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(c)), &obj); err == nil {
			return obj
		}
	}
	return nil
}
