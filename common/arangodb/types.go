package arangodb

// SummaryDocument is one package summary as stored in the package_summaries collection.
type SummaryDocument struct {
	Project string   `json:"project"`
	Package string   `json:"package"`
	Summary string   `json:"summary"`
	Names   []string `json:"names"`
}
