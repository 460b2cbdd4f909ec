// Package shield is the transfer decision engine. It maps a cross-border
// transfer request to ALLOW, BLOCK or REVIEW per GDPR Art. 44-49, using the
// jurisdiction classifier and the SCC registry.
package shield

import (
	"context"
	"fmt"

	"github.com/veridion/sovereign-shield/pkg/evidence"
	"github.com/veridion/sovereign-shield/pkg/jurisdiction"
)

// Decision is the outcome of evaluating a transfer.
type Decision string

const (
	DecisionAllow  Decision = "ALLOW"
	DecisionBlock  Decision = "BLOCK"
	DecisionReview Decision = "REVIEW"
)

// Event types recorded for each decision outcome.
const (
	EventTransfer        = "DATA_TRANSFER"
	EventTransferBlocked = "DATA_TRANSFER_BLOCKED"
	EventTransferReview  = "DATA_TRANSFER_REVIEW"
)

// TransferContext describes one transfer to be evaluated. DataCategories
// distinguishes "not provided" (nil) from "provided and empty": nil forces a
// review, empty means no personal data is involved.
type TransferContext struct {
	DestinationCountryCode string
	DestinationCountry     string
	DataCategories         []string
	PartnerName            string
	SourceIP               string
	DestIP                 string
	DataSize               *int64
	Protocol               string
	UserAgent              string
	RequestPath            string
}

// TransferDecision is the engine's verdict, including everything needed to
// record it as evidence.
type TransferDecision struct {
	Decision      Decision `json:"decision"`
	Reason        string   `json:"reason"`
	Severity      string   `json:"severity"`
	Articles      []string `json:"articles"`
	EventType     string   `json:"event_type"`
	CountryStatus string   `json:"country_status"`
}

// SCCChecker reports whether an active SCC covers a (partner, country) pair.
type SCCChecker interface {
	ActiveExists(ctx context.Context, partnerName, countryCode string) (bool, error)
}

// Evaluate is the pure decision function. It never consults the SCC
// registry: a transfer to an SCC-required country carrying personal data
// always lands in review. Use EvaluateWithSCC when a registry is available.
func Evaluate(tc TransferContext) TransferDecision {
	code, missing := normalizedCode(tc)
	if missing != nil {
		return *missing
	}

	name := jurisdiction.CountryName(code)
	status := jurisdiction.Classify(code)

	switch status {
	case jurisdiction.StatusEUEEA:
		return allowEUEEA(name)
	case jurisdiction.StatusAdequate:
		return allowAdequate(name)
	case jurisdiction.StatusBlocked:
		return blockDecision(name)
	case jurisdiction.StatusSCCRequired:
		if !hasPersonalData(tc) {
			return allowNoPersonalData(name, status)
		}
		return TransferDecision{
			Decision:      DecisionReview,
			Reason:        fmt.Sprintf("%s requires SCC — human review needed to verify safeguards", name),
			Severity:      evidence.SeverityL2,
			Articles:      []string{"GDPR Art. 46"},
			EventType:     EventTransferReview,
			CountryStatus: string(jurisdiction.StatusSCCRequired),
		}
	default:
		if !hasPersonalData(tc) {
			return allowNoPersonalData(name, jurisdiction.StatusUnknown)
		}
		return TransferDecision{
			Decision:      DecisionReview,
			Reason:        fmt.Sprintf("%s — unknown jurisdiction, requires human review", name),
			Severity:      evidence.SeverityL2,
			Articles:      []string{"GDPR Art. 44"},
			EventType:     EventTransferReview,
			CountryStatus: string(jurisdiction.StatusUnknown),
		}
	}
}

// EvaluateWithSCC extends Evaluate with an SCC registry lookup for
// SCC-required destinations. A registry failure fails safe to REVIEW rather
// than letting the transfer through.
func EvaluateWithSCC(ctx context.Context, checker SCCChecker, tc TransferContext) (TransferDecision, error) {
	code, missing := normalizedCode(tc)
	if missing != nil {
		return *missing, nil
	}

	name := jurisdiction.CountryName(code)
	status := jurisdiction.Classify(code)
	if status != jurisdiction.StatusSCCRequired {
		return Evaluate(tc), nil
	}
	if !hasPersonalData(tc) {
		return allowNoPersonalData(name, status), nil
	}

	if tc.PartnerName == "" {
		return sccReview(fmt.Sprintf("%s requires SCC — partner name required to verify SCC", name)), nil
	}

	ok, err := checker.ActiveExists(ctx, tc.PartnerName, code)
	if err != nil {
		return sccReview(fmt.Sprintf("%s requires SCC — unable to verify SCC status", name)), err
	}
	if ok {
		return TransferDecision{
			Decision:      DecisionAllow,
			Reason:        fmt.Sprintf("Transfer to %s — valid SCC in place for %s", name, tc.PartnerName),
			Severity:      evidence.SeverityL1,
			Articles:      []string{"GDPR Art. 46"},
			EventType:     EventTransfer,
			CountryStatus: string(jurisdiction.StatusSCCRequired),
		}, nil
	}
	return sccReview(fmt.Sprintf("%s requires SCC — no active SCC found for %s", name, tc.PartnerName)), nil
}

func normalizedCode(tc TransferContext) (string, *TransferDecision) {
	if tc.DestinationCountryCode == "" {
		return "", &TransferDecision{
			Decision:      DecisionReview,
			Reason:        "Missing destination country — cannot evaluate transfer",
			Severity:      evidence.SeverityL2,
			Articles:      []string{"GDPR Art. 44"},
			EventType:     EventTransferReview,
			CountryStatus: string(jurisdiction.StatusUnknown),
		}
	}
	if tc.DataCategories == nil {
		return "", &TransferDecision{
			Decision:      DecisionReview,
			Reason:        "Missing data categories — cannot determine if personal data is involved",
			Severity:      evidence.SeverityL2,
			Articles:      []string{"GDPR Art. 44"},
			EventType:     EventTransferReview,
			CountryStatus: string(jurisdiction.Classify(tc.DestinationCountryCode)),
		}
	}
	return tc.DestinationCountryCode, nil
}

func hasPersonalData(tc TransferContext) bool {
	return len(tc.DataCategories) > 0
}

func allowEUEEA(name string) TransferDecision {
	return TransferDecision{
		Decision:      DecisionAllow,
		Reason:        fmt.Sprintf("%s is EU/EEA — no transfer restrictions", name),
		Severity:      evidence.SeverityL1,
		Articles:      []string{},
		EventType:     EventTransfer,
		CountryStatus: string(jurisdiction.StatusEUEEA),
	}
}

func allowAdequate(name string) TransferDecision {
	return TransferDecision{
		Decision:      DecisionAllow,
		Reason:        fmt.Sprintf("%s has EU adequacy decision", name),
		Severity:      evidence.SeverityL1,
		Articles:      []string{"GDPR Art. 45"},
		EventType:     EventTransfer,
		CountryStatus: string(jurisdiction.StatusAdequate),
	}
}

func blockDecision(name string) TransferDecision {
	return TransferDecision{
		Decision:      DecisionBlock,
		Reason:        fmt.Sprintf("%s is blocked — no legal transfer mechanism available", name),
		Severity:      evidence.SeverityL3,
		Articles:      []string{"GDPR Art. 44", "GDPR Art. 46"},
		EventType:     EventTransferBlocked,
		CountryStatus: string(jurisdiction.StatusBlocked),
	}
}

func allowNoPersonalData(name string, status jurisdiction.Status) TransferDecision {
	return TransferDecision{
		Decision:      DecisionAllow,
		Reason:        fmt.Sprintf("Transfer to %s — no personal data involved", name),
		Severity:      evidence.SeverityL1,
		Articles:      []string{},
		EventType:     EventTransfer,
		CountryStatus: string(status),
	}
}

func sccReview(reason string) TransferDecision {
	return TransferDecision{
		Decision:      DecisionReview,
		Reason:        reason,
		Severity:      evidence.SeverityL2,
		Articles:      []string{"GDPR Art. 46"},
		EventType:     EventTransferReview,
		CountryStatus: string(jurisdiction.StatusSCCRequired),
	}
}
