// Package metrics tracks API call counts, face statistics and estimated
// cost for the remote face recognition backends.
package metrics

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed prices.yaml
var pricesYAML []byte

// Pricing holds per-1000-call prices for one provider, keyed by operation
// name (e.g. "detect_faces").
type Pricing struct {
	Currency   string             `yaml:"currency"`
	CallsPer1K map[string]float64 `yaml:"calls_per_1000"`
}

// PricesConfig maps provider names to their pricing tables.
type PricesConfig struct {
	Providers map[string]Pricing `yaml:"providers"`
}

func loadPrices() PricesConfig {
	var prices PricesConfig
	if err := yaml.Unmarshal(pricesYAML, &prices); err != nil {
		// Embedded file, should never happen in practice.
		panic("failed to unmarshal embedded prices.yaml: " + err.Error())
	}
	return prices
}

// Usage collects counters for one provider instance. Safe for concurrent
// use.
type Usage struct {
	mu       sync.Mutex
	provider string
	pricing  Pricing

	apiCalls      map[string]int
	facesDetected int
	facesMatched  int
}

// NewUsage creates a usage tracker for the named provider. Providers
// without a pricing table (the local backend) report zero cost.
func NewUsage(provider string) *Usage {
	prices := loadPrices()
	return &Usage{
		provider: provider,
		pricing:  prices.Providers[provider],
		apiCalls: make(map[string]int),
	}
}

// Track records one API call of the given operation.
func (u *Usage) Track(op string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.apiCalls[op]++
}

// AddFaces records detection results for one processed image.
func (u *Usage) AddFaces(detected, matched int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.facesDetected += detected
	u.facesMatched += matched
}

// Calls returns the call count for one operation.
func (u *Usage) Calls(op string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.apiCalls[op]
}

// TotalCalls returns the number of API calls across all operations.
func (u *Usage) TotalCalls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	total := 0
	for _, n := range u.apiCalls {
		total += n
	}
	return total
}

// FacesDetected returns the total number of faces seen across all images.
func (u *Usage) FacesDetected() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.facesDetected
}

// FacesMatched returns the total number of faces that matched the target.
func (u *Usage) FacesMatched() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.facesMatched
}

// EstimatedCost returns the cost estimate based on the embedded pricing
// table.
func (u *Usage) EstimatedCost() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	var cost float64
	for op, n := range u.apiCalls {
		cost += float64(n) / 1000 * u.pricing.CallsPer1K[op]
	}
	return cost
}

// Reset clears all counters.
func (u *Usage) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.apiCalls = make(map[string]int)
	u.facesDetected = 0
	u.facesMatched = 0
}

// Summary renders a human-readable usage report for the CLI.
func (u *Usage) Summary() string {
	u.mu.Lock()
	defer u.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Provider: %s\n", u.provider)

	ops := make([]string, 0, len(u.apiCalls))
	for op := range u.apiCalls {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		fmt.Fprintf(&sb, "  %-20s %d\n", op, u.apiCalls[op])
	}

	fmt.Fprintf(&sb, "Faces detected: %d\n", u.facesDetected)
	fmt.Fprintf(&sb, "Faces matched:  %d\n", u.facesMatched)

	var cost float64
	for op, n := range u.apiCalls {
		cost += float64(n) / 1000 * u.pricing.CallsPer1K[op]
	}
	currency := u.pricing.Currency
	if currency == "" {
		currency = "USD"
	}
	fmt.Fprintf(&sb, "Estimated cost: %.4f %s\n", cost, currency)

	return sb.String()
}
