package usage

import (
	"fmt"

	"pdfreader/pkg/domain"
)

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(kind QuotaKind, limit, used, requested int64, period domain.UsagePeriod, message string) Decision {
	return Decision{
		Allowed: false,
		Message: message,
		Exceeded: &QuotaExceededError{
			Kind:        kind,
			Limit:       limit,
			Used:        used,
			Requested:   requested,
			PeriodStart: period.PeriodStart,
			PeriodEnd:   period.PeriodEnd,
			ResetsAt:    period.PeriodEnd.AddDate(0, 0, 1),
		},
	}
}

// CheckStorage reports whether additionalBytes more storage fits the plan.
func (l *Ledger) CheckStorage(userID string, additionalBytes int64) (Decision, error) {
	_, limits, period, err := l.state(userID)
	if err != nil {
		return Decision{}, err
	}
	max := limits.MaxStorageBytes
	if max == domain.Unlimited || period.StorageBytesUsed+additionalBytes <= max {
		return allow(), nil
	}
	return deny(QuotaStorage, max, period.StorageBytesUsed, additionalBytes, period,
		fmt.Sprintf("Storage limit exceeded: %s used of %s, this upload needs %s more.",
			formatBytes(period.StorageBytesUsed), formatBytes(max), formatBytes(additionalBytes))), nil
}

// CheckFileCount reports whether one more file may be added.
func (l *Ledger) CheckFileCount(userID string) (Decision, error) {
	_, limits, period, err := l.state(userID)
	if err != nil {
		return Decision{}, err
	}
	max := limits.MaxFiles
	if max == domain.Unlimited || period.FilesUsed < max {
		return allow(), nil
	}
	return deny(QuotaFiles, max, period.FilesUsed, 1, period,
		fmt.Sprintf("File limit reached: %d of %d files this period.", period.FilesUsed, max)), nil
}

// CheckFileSize reports whether a single file of sizeBytes is allowed.
func (l *Ledger) CheckFileSize(userID string, sizeBytes int64) (Decision, error) {
	_, limits, period, err := l.state(userID)
	if err != nil {
		return Decision{}, err
	}
	max := limits.MaxFileSizeBytes
	if max == domain.Unlimited || sizeBytes <= max {
		return allow(), nil
	}
	return deny(QuotaFileSize, max, 0, sizeBytes, period,
		fmt.Sprintf("File is too large: %s exceeds the %s per-file limit of your plan.",
			formatBytes(sizeBytes), formatBytes(max))), nil
}

// CheckTokens reports whether estimated more tokens fit this period.
func (l *Ledger) CheckTokens(userID string, estimated int64) (Decision, error) {
	_, limits, period, err := l.state(userID)
	if err != nil {
		return Decision{}, err
	}
	max := limits.MaxTokensPerMonth
	if max == domain.Unlimited || period.TokensUsed+estimated <= max {
		return allow(), nil
	}
	return deny(QuotaTokens, max, period.TokensUsed, estimated, period,
		fmt.Sprintf("Token limit exceeded: %d of %d tokens used this period.", period.TokensUsed, max)), nil
}

// CheckQuestions reports whether one more question may be asked.
func (l *Ledger) CheckQuestions(userID string) (Decision, error) {
	_, limits, period, err := l.state(userID)
	if err != nil {
		return Decision{}, err
	}
	max := limits.MaxQuestionsPerMonth
	if max == domain.Unlimited || period.QuestionsUsed < max {
		return allow(), nil
	}
	return deny(QuotaQuestions, max, period.QuestionsUsed, 1, period,
		fmt.Sprintf("Question limit reached: %d of %d questions this period.", period.QuestionsUsed, max)), nil
}

func formatBytes(n int64) string {
	switch {
	case n >= gib:
		return fmt.Sprintf("%.1f GiB", float64(n)/float64(gib))
	case n >= mib:
		return fmt.Sprintf("%.1f MiB", float64(n)/float64(mib))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
