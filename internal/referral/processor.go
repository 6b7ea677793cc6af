// Package referral orchestrates referral payouts on top of the ledger.
package referral

import (
	"context"
	"log/slog"
	"strings"
)

// Linker is the slice of the ledger the processor needs.
type Linker interface {
	LinkReferral(ctx context.Context, referrerCode string, referredID int64) (bool, error)
}

// Processor credits referrer and referee on the first use of a referral link.
// Repeated calls for an already-linked user are silent no-ops.
type Processor struct {
	ledger Linker
	log    *slog.Logger
}

func New(ledger Linker, log *slog.Logger) *Processor {
	return &Processor{ledger: ledger, log: log}
}

// Process attempts to link newUserID to the owner of code. It returns true
// only when the bonus was actually paid out; every rejection (unknown code,
// self-referral, already referred) is false without an error, matching the
// "referral is never surfaced as a failure" contract.
func (p *Processor) Process(ctx context.Context, code string, newUserID int64) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}

	linked, err := p.ledger.LinkReferral(ctx, code, newUserID)
	if err != nil {
		p.log.Error("link referral", "code", code, "user", newUserID, "err", err)
		return false
	}
	if linked {
		p.log.Info("referral credited", "code", code, "user", newUserID)
	}
	return linked
}
