package ledger

import (
	"fmt"
	"sort"
	"strings"
)

// Complexity hints accepted by RecommendModel.
const (
	ComplexitySimple  = "simple"
	ComplexityMedium  = "medium"
	ComplexityComplex = "complex"
)

// capability tiers: a model can serve any hint at or below its tier.
var modelTiers = map[string]int{
	"gpt-4o-mini":   1,
	"gpt-3.5-turbo": 2,
	"gpt-4":         3,
}

func complexityTier(hint string) (int, error) {
	switch strings.ToLower(hint) {
	case ComplexitySimple:
		return 1, nil
	case ComplexityMedium, "":
		return 2, nil
	case ComplexityComplex:
		return 3, nil
	default:
		return 0, fmt.Errorf("unknown complexity hint %q", hint)
	}
}

// estimate savings over a nominal workload, matching the original advisor.
const nominalTokens = 10000

// Suggestion is an advisory model recommendation. It carries no enforcement.
type Suggestion struct {
	Model            string  `json:"recommended_model"`
	Reason           string  `json:"reason"`
	CurrentCost      float64 `json:"current_cost"`
	RecommendedCost  float64 `json:"recommended_cost"`
	Savings          float64 `json:"savings"`
	SavingsPercent   float64 `json:"savings_percentage"`
	PricePerThousand float64 `json:"price_per_1k"`
}

// RecommendModel proposes the cheapest model whose capability tier still
// covers the complexity hint. It is a pure function over the price table:
// it never mutates ledger state and stays available after budget exhaustion.
func (l *Ledger) RecommendModel(complexity, currentModel string) (Suggestion, error) {
	return Recommend(l.prices, complexity, currentModel)
}

// Recommend is the stateless core of RecommendModel.
func Recommend(prices map[string]float64, complexity, currentModel string) (Suggestion, error) {
	need, err := complexityTier(complexity)
	if err != nil {
		return Suggestion{}, err
	}

	type candidate struct {
		model string
		price float64
	}
	var candidates []candidate
	for model, price := range prices {
		tier, known := modelTiers[model]
		if !known || tier < need {
			continue
		}
		candidates = append(candidates, candidate{model, price})
	}
	if len(candidates) == 0 {
		return Suggestion{}, fmt.Errorf("no model in price table covers complexity %q", complexity)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].price != candidates[j].price {
			return candidates[i].price < candidates[j].price
		}
		return candidates[i].model < candidates[j].model
	})
	best := candidates[0]

	currentPrice, ok := prices[currentModel]
	if !ok {
		// No baseline to compare against; still a valid recommendation.
		currentPrice = best.price
	}

	currentCost := nominalTokens * currentPrice / 1000
	recommendedCost := nominalTokens * best.price / 1000
	savings := currentCost - recommendedCost
	savingsPct := 0.0
	if currentCost > 0 {
		savingsPct = savings / currentCost * 100
	}

	return Suggestion{
		Model:            best.model,
		Reason:           reasonFor(complexity),
		CurrentCost:      currentCost,
		RecommendedCost:  recommendedCost,
		Savings:          savings,
		SavingsPercent:   savingsPct,
		PricePerThousand: best.price,
	}, nil
}

func reasonFor(complexity string) string {
	switch strings.ToLower(complexity) {
	case ComplexitySimple:
		return "simple queries don't need expensive models"
	case ComplexityComplex:
		return "complex reasoning requires the most capable model"
	default:
		return "good balance of performance and cost"
	}
}
