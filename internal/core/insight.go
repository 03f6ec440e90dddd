package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	UnusualSpend       Kind = "unusual_spend"
	BudgetWarning      Kind = "budget_warning"
	LowBalance         Kind = "low_balance"
	SavingsOpportunity Kind = "savings_opportunity"
	IncomeVariance     Kind = "income_variance"
	EmergencyFund      Kind = "emergency_fund"
	Summary            Kind = "summary"
)

const (
	Info Severity = iota + 1
	Warning
	Critical
)

type (
	Kind     string
	Severity int

	// Insight is one candidate or emitted finding. Payload holds one of the
	// *Payload structs below, never free text.
	Insight struct {
		ID          string
		UserID      string
		Kind        Kind
		Severity    Severity
		Category    string
		Payload     any
		GeneratedAt time.Time
		DedupKey    string
	}

	UnusualSpendPayload struct {
		TransactionID string  `json:"transaction_id"`
		Amount        Money   `json:"amount"`
		BaselineMean  float64 `json:"baseline_mean"`
		BaselineStd   float64 `json:"baseline_std"`
		SampleSize    int64   `json:"sample_size"`
		ZScore        float64 `json:"z_score"`
	}

	BudgetPayload struct {
		Limit      Money   `json:"limit"`
		TotalSpent Money   `json:"total_spent"`
		Ratio      float64 `json:"ratio"`
		Exceeded   bool    `json:"exceeded"`
		Period     string  `json:"period"`
	}

	LowBalancePayload struct {
		Balance   Money `json:"balance"`
		Threshold Money `json:"threshold"`
		Episode   int   `json:"episode"`
	}

	SavingsPayload struct {
		Rank            int     `json:"rank"`
		TotalSpent      Money   `json:"total_spent"`
		Variation       float64 `json:"variation,omitempty"`
		SuggestBudget   bool    `json:"suggest_budget"`
		BudgetReason    string  `json:"budget_reason,omitempty"`
		Period          string  `json:"period"`
		ComparedPeriods int     `json:"compared_periods"`
	}

	IncomeVariancePayload struct {
		Direction    string  `json:"direction"` // "high" or "low"
		Current      Money   `json:"current"`
		TrailingMean Money   `json:"trailing_mean"`
		Deviation    float64 `json:"deviation"`
		Periods      int     `json:"periods"`
		Period       string  `json:"period"`
	}

	EmergencyFundPayload struct {
		IncomeVariation float64 `json:"income_variation"`
		TrailingMean    Money   `json:"trailing_mean"`
		Periods         int     `json:"periods"`
		Period          string  `json:"period"`
	}

	CategoryShare struct {
		Category string  `json:"category"`
		Spent    Money   `json:"spent"`
		Share    float64 `json:"share"`
	}

	IncomeShare struct {
		Category string  `json:"category"`
		Received Money   `json:"received"`
		Share    float64 `json:"share"`
	}

	SummaryPayload struct {
		Period           string          `json:"period"`
		TotalSpend       Money           `json:"total_spend"`
		PriorSpend       *Money          `json:"prior_spend,omitempty"`
		SpendDeltaPct    *float64        `json:"spend_delta_pct,omitempty"`
		NoPriorData      bool            `json:"no_prior_data"`
		TopCategory      string          `json:"top_category,omitempty"`
		TopCategorySpend Money           `json:"top_category_spend"`
		TotalIncome      Money           `json:"total_income"`
		Saved            Money           `json:"saved"`
		Deficit          Money           `json:"deficit"`
		SavingsRate      *float64        `json:"savings_rate,omitempty"`
		AvgDailySpend    Money           `json:"avg_daily_spend"`
		Breakdown        []CategoryShare `json:"breakdown"`
		IncomeBreakdown  []IncomeShare   `json:"income_breakdown"`
		HealthScore      int             `json:"health_score"`
		HealthBand       string          `json:"health_band"`
	}
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity is the inverse of Severity.String.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "info":
		return Info, nil
	case "warning":
		return Warning, nil
	case "critical":
		return Critical, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSeverity, s)
	}
}

// Kinds lists every insight kind, highest base priority first.
var Kinds = []Kind{LowBalance, BudgetWarning, UnusualSpend, SavingsOpportunity, IncomeVariance, EmergencyFund, Summary}

// IsAlert reports whether the kind is governed by the alert dedup window
// rather than the recommendation window.
func (k Kind) IsAlert() bool {
	switch k {
	case UnusualSpend, BudgetWarning, LowBalance:
		return true
	default:
		return false
	}
}

// Escalates reports whether a repeat of an already emitted key may still be
// emitted within its window when its severity is higher. Only budget and
// balance alerts move through ordered bands; other kinds stay suppressed.
func (k Kind) Escalates() bool {
	return k == BudgetWarning || k == LowBalance
}

// Priority ranks a (kind, severity) pair; lower ranks sort first.
//
//	LowBalance(critical) > BudgetWarning(exceeded) > UnusualSpend(critical) >
//	BudgetWarning(approaching) > LowBalance(warning) > UnusualSpend(warning) >
//	SavingsOpportunity > IncomeVariance > EmergencyFund > Summary
func Priority(k Kind, s Severity) int {
	switch k {
	case LowBalance:
		if s >= Critical {
			return 0
		}
		return 4
	case BudgetWarning:
		if s >= Warning {
			return 1
		}
		return 3
	case UnusualSpend:
		if s >= Critical {
			return 2
		}
		return 5
	case SavingsOpportunity:
		return 6
	case IncomeVariance:
		return 7
	case EmergencyFund:
		return 8
	case Summary:
		return 9
	default:
		return 10
	}
}

// DedupKey joins a kind and its subject parts, e.g. "unusual_spend|Dining|2024-03-05".
func DedupKey(k Kind, parts ...string) string {
	key := string(k)
	for _, p := range parts {
		key += "|" + p
	}
	return key
}

var insightNamespace = uuid.MustParse("6f1c2a52-8d0e-4b7a-9c61-3e5d2f4a7b10")

// InsightID derives a stable id from its parts so that re-evaluating the same
// input produces the same insight.
func InsightID(parts ...string) string {
	return uuid.NewSHA1(insightNamespace, []byte(strings.Join(parts, "\x00"))).String()
}

// DecodePayload unmarshals a JSON payload into the struct matching kind.
func DecodePayload(k Kind, data []byte) (any, error) {
	var err error
	switch k {
	case UnusualSpend:
		var p UnusualSpendPayload
		err = json.Unmarshal(data, &p)
		return p, err
	case BudgetWarning:
		var p BudgetPayload
		err = json.Unmarshal(data, &p)
		return p, err
	case LowBalance:
		var p LowBalancePayload
		err = json.Unmarshal(data, &p)
		return p, err
	case SavingsOpportunity:
		var p SavingsPayload
		err = json.Unmarshal(data, &p)
		return p, err
	case IncomeVariance:
		var p IncomeVariancePayload
		err = json.Unmarshal(data, &p)
		return p, err
	case EmergencyFund:
		var p EmergencyFundPayload
		err = json.Unmarshal(data, &p)
		return p, err
	case Summary:
		var p SummaryPayload
		err = json.Unmarshal(data, &p)
		return p, err
	default:
		return nil, fmt.Errorf("decode payload: unknown kind %q", k)
	}
}
