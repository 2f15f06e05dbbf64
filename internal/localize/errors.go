package localize

import (
	"errors"
	"fmt"

	"basegraph.app/localizer/internal/vectorindex"
)

var (
	// ErrBudgetExhausted means even the minimal prompt does not fit the model's
	// context limit. Retrying with the same inputs cannot succeed.
	ErrBudgetExhausted = errors.New("context budget exhausted")

	// ErrIndexUnavailable is returned when a strategy's vector collection is
	// missing, empty or unreachable. The orchestrator may fall back on it.
	ErrIndexUnavailable = vectorindex.ErrUnavailable

	// ErrUnknownStrategy is a configuration error: the name is not registered.
	ErrUnknownStrategy = errors.New("unknown localization strategy")

	ErrInvalidRequest = errors.New("invalid localization request")
)

// Ranking stages reported in LocalizationError.
const (
	StagePackageRanking = "package_ranking"
	StageFileRanking    = "file_ranking"
)

// LocalizationError means a ranking call completed but its output could not
// be used. The same inputs may succeed on retry.
type LocalizationError struct {
	Strategy string
	Stage    string
	Err      error
}

func (e *LocalizationError) Error() string {
	return fmt.Sprintf("%s strategy: %s output unusable: %v", e.Strategy, e.Stage, e.Err)
}

func (e *LocalizationError) Unwrap() error {
	return e.Err
}
