package model

// Suggestion is one ranked location a change is likely to touch.
// Confidence is in [0, 1] for every built-in strategy.
type Suggestion struct {
	Package    string  `json:"package"`
	File       string  `json:"file"`
	FilePath   string  `json:"file_path,omitempty"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

const (
	MinConfidence = 0.0
	MaxConfidence = 1.0
)
