package invoicing

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TermsKind classifies a payment-terms code.
type TermsKind int

const (
	// TermsCustom is any code that is not recognised; it falls back to
	// issue date + DefaultCustomTermsDays.
	TermsCustom TermsKind = iota
	// TermsImmediate is due on the issue date.
	TermsImmediate
	// TermsCurrentPlus ("שוטף + N") is due N days after the end of the issue month.
	TermsCurrentPlus
)

const (
	TermsCodeImmediate = "immediate"
	// DefaultCustomTermsDays applies to unrecognised codes.
	DefaultCustomTermsDays = 30
)

var currentPlusPattern = regexp.MustCompile(`^current\+(\d+)$`)

// PaymentTerms is a parsed payment-terms code.
type PaymentTerms struct {
	Code string
	Kind TermsKind
	Days int
}

// ParsePaymentTerms classifies code. Unknown codes keep their original text.
func ParsePaymentTerms(code string) PaymentTerms {
	normalized := strings.ToLower(strings.TrimSpace(code))
	if normalized == TermsCodeImmediate {
		return PaymentTerms{Code: code, Kind: TermsImmediate}
	}
	if m := currentPlusPattern.FindStringSubmatch(normalized); m != nil {
		days, err := strconv.Atoi(m[1])
		if err == nil {
			return PaymentTerms{Code: code, Kind: TermsCurrentPlus, Days: days}
		}
	}
	return PaymentTerms{Code: code, Kind: TermsCustom, Days: DefaultCustomTermsDays}
}

// DueDate resolves the due date for an invoice issued on issueDate. The
// result is midnight in issueDate's location.
func (t PaymentTerms) DueDate(issueDate time.Time) time.Time {
	issued := dateOnly(issueDate)
	switch t.Kind {
	case TermsImmediate:
		return issued
	case TermsCurrentPlus:
		y, m, _ := issued.Date()
		// Day 0 of the next month is the last day of this one.
		endOfMonth := time.Date(y, m+1, 0, 0, 0, 0, 0, issued.Location())
		return endOfMonth.AddDate(0, 0, t.Days)
	default:
		return issued.AddDate(0, 0, t.Days)
	}
}

// CalculatePaymentDueDate maps a payment-terms code and issue date to a due date.
func CalculatePaymentDueDate(paymentTerms string, issueDate time.Time) time.Time {
	return ParsePaymentTerms(paymentTerms).DueDate(issueDate)
}

// DaysUntilDue returns the number of calendar days from today to the due
// date implied by paymentTerms and issueDate. Negative means overdue.
func DaysUntilDue(paymentTerms string, issueDate, today time.Time) int {
	return DaysUntil(CalculatePaymentDueDate(paymentTerms, issueDate), today)
}

// DaysUntil counts calendar days from today to due, ignoring time of day.
func DaysUntil(due, today time.Time) int {
	dy, dm, dd := due.Date()
	ty, tm, td := today.Date()
	d := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	t := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(d.Sub(t).Hours() / 24)
}

var termsDisplayText = map[string]string{
	TermsCodeImmediate: "מיידי",
	"current+15":       "שוטף + 15",
	"current+30":       "שוטף + 30",
	"current+60":       "שוטף + 60",
	"current+90":       "שוטף + 90",
}

var knownTermsOrder = []string{TermsCodeImmediate, "current+15", "current+30", "current+60", "current+90"}

// PaymentTermsDisplayText returns the Hebrew label for a known code and the
// code itself otherwise.
func PaymentTermsDisplayText(code string) string {
	if label, ok := termsDisplayText[code]; ok {
		return label
	}
	return code
}

// PaymentTermsOption is a selectable payment-terms code.
type PaymentTermsOption struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

// KnownPaymentTerms lists the predefined codes in display order.
func KnownPaymentTerms() []PaymentTermsOption {
	out := make([]PaymentTermsOption, 0, len(knownTermsOrder))
	for _, code := range knownTermsOrder {
		out = append(out, PaymentTermsOption{Code: code, Label: termsDisplayText[code]})
	}
	return out
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
