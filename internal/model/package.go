package model

import "time"

// PackageSummary is the short description of one package produced by the
// documentation generator. Names lists the sub-packages, files, functions and
// classes the package contains.
type PackageSummary struct {
	Name    string   `json:"name"`
	Summary string   `json:"summary"`
	Names   []string `json:"names,omitempty"`
}

// PackageDetails is the aggregated file-level documentation of a package.
// TokenCount is measured when the entry is written and is not recomputed.
type PackageDetails struct {
	Package    string    `json:"package"`
	Text       string    `json:"text"`
	TokenCount int       `json:"token_count"`
	CachedAt   time.Time `json:"cached_at"`
}
