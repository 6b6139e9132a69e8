// Package budget derives spend-versus-allocation figures from a project's
// phases and expenses. Nothing here is persisted.
package budget

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fundora/apiserver/types"
)

// UncategorizedLabel buckets expenses that have no category.
const UncategorizedLabel = "Uncategorized"

// RecentLimit is the number of expenses reported in Summary.Recent.
const RecentLimit = 5

// Summary is the aggregated budget view of a project.
type Summary struct {
	TotalAllocated  float64           `json:"totalAllocated"`
	TotalSpent      float64           `json:"totalSpent"`
	RemainingBudget float64           `json:"remainingBudget"`
	Phases          []PhaseSummary    `json:"phases"`
	Categories      []CategoryTotal   `json:"categories"`
	Cumulative      []CumulativePoint `json:"cumulative"`
	Recent          []types.Expense   `json:"recent"`
}

// PhaseSummary reports spend within a single phase's date range.
type PhaseSummary struct {
	Index        int       `json:"index"`
	Name         string    `json:"name"`
	StartDate    time.Time `json:"startDate"`
	EndDate      time.Time `json:"endDate"`
	Allocated    float64   `json:"allocated"`
	Spent        float64   `json:"spent"`
	Remaining    float64   `json:"remaining"`
	PercentSpent float64   `json:"percentSpent"`
}

// CategoryTotal is the spend of one category.
type CategoryTotal struct {
	Category       string  `json:"category"`
	Total          float64 `json:"total"`
	PercentOfTotal float64 `json:"percentOfTotal"`
}

// CumulativePoint pairs an expense with the running total up to and
// including it.
type CumulativePoint struct {
	Date       time.Time `json:"date"`
	ExpenseID  string    `json:"expenseId"`
	Amount     float64   `json:"amount"`
	Cumulative float64   `json:"cumulative"`
}

// Summarize computes the budget view. An expense dated inside several
// overlapping phases counts toward each of them.
func Summarize(phases []types.Phase, expenses []types.Expense) Summary {
	summary := Summary{
		Phases:     make([]PhaseSummary, 0, len(phases)),
		Categories: []CategoryTotal{},
		Cumulative: make([]CumulativePoint, 0, len(expenses)),
		Recent:     []types.Expense{},
	}

	for _, phase := range phases {
		summary.TotalAllocated += phase.AmountReceived
	}
	for _, expense := range expenses {
		summary.TotalSpent += expense.Amount
	}
	summary.RemainingBudget = summary.TotalAllocated - summary.TotalSpent

	for i, phase := range phases {
		var spent float64
		for _, expense := range expenses {
			if inRange(expense.Date, phase.StartDate, phase.EndDate) {
				spent += expense.Amount
			}
		}
		summary.Phases = append(summary.Phases, PhaseSummary{
			Index:        i,
			Name:         phaseName(phase, i),
			StartDate:    phase.StartDate,
			EndDate:      phase.EndDate,
			Allocated:    phase.AmountReceived,
			Spent:        spent,
			Remaining:    phase.AmountReceived - spent,
			PercentSpent: percent(spent, phase.AmountReceived),
		})
	}

	summary.Categories = categoryTotals(expenses, summary.TotalSpent)

	byDate := sortedByDate(expenses)
	var running float64
	for _, expense := range byDate {
		running += expense.Amount
		summary.Cumulative = append(summary.Cumulative, CumulativePoint{
			Date:       expense.Date,
			ExpenseID:  expense.ID,
			Amount:     expense.Amount,
			Cumulative: running,
		})
	}

	for i := len(byDate) - 1; i >= 0 && len(summary.Recent) < RecentLimit; i-- {
		summary.Recent = append(summary.Recent, byDate[i])
	}

	return summary
}

func categoryTotals(expenses []types.Expense, totalSpent float64) []CategoryTotal {
	totals := []CategoryTotal{}
	index := make(map[string]int)
	for _, expense := range expenses {
		category := strings.TrimSpace(expense.Category)
		if category == "" {
			category = UncategorizedLabel
		}
		i, ok := index[category]
		if !ok {
			i = len(totals)
			index[category] = i
			totals = append(totals, CategoryTotal{Category: category})
		}
		totals[i].Total += expense.Amount
	}
	for i := range totals {
		totals[i].PercentOfTotal = percent(totals[i].Total, totalSpent)
	}
	return totals
}

func sortedByDate(expenses []types.Expense) []types.Expense {
	sorted := append([]types.Expense(nil), expenses...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})
	return sorted
}

// inRange reports whether t falls within [start, end], both inclusive.
func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

func percent(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return part / whole * 100
}

func phaseName(phase types.Phase, index int) string {
	number := phase.PhaseNumber
	if number == 0 {
		number = index + 1
	}
	return "Phase " + strconv.Itoa(number)
}
