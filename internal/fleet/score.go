package fleet

import (
	"sort"
	"strings"

	"github.com/sells-group/fleet-feedback/internal/db"
)

// excludedScore marks a column that can never hold vehicle identifiers.
const excludedScore = -1_000_000

// Substring weights for identifier column names.
var nameWeights = []struct {
	substr string
	weight int
}{
	{"carreta", 50},
	{"placa", 30},
	{"veiculo", 10},
}

// Candidate is a scored guess at the column holding vehicle identifiers.
type Candidate struct {
	Name  string `json:"name" yaml:"name"`
	Score int    `json:"score" yaml:"score"`
}

// Excluded reports whether the candidate was ruled out by exact name.
func (c Candidate) Excluded() bool { return c.Score <= excludedScore }

// ScoreColumn weighs a column name by domain substrings. Names equal to one of
// excluded get the exclusion sentinel regardless of substring hits.
func ScoreColumn(name string, excluded []string) int {
	lower := strings.ToLower(name)
	for _, ex := range excluded {
		if lower == strings.ToLower(ex) {
			return excludedScore
		}
	}
	score := 0
	for _, w := range nameWeights {
		if strings.Contains(lower, w.substr) {
			score += w.weight
		}
	}
	return score
}

// RankCandidates scores every column, sorts descending (ties by name) and
// splits the result into probe-eligible candidates and the full scoring used
// for diagnostics. Excluded and non-whitelisted names are never eligible.
func RankCandidates(columns, excluded []string) (eligible, all []Candidate) {
	all = make([]Candidate, 0, len(columns))
	for _, col := range columns {
		all = append(all, Candidate{Name: col, Score: ScoreColumn(col, excluded)})
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].Name < all[j].Name
	})
	for _, c := range all {
		if c.Excluded() || !db.IsSafeIdent(c.Name) {
			continue
		}
		eligible = append(eligible, c)
	}
	return eligible, all
}
