package model

import "fmt"

type VectorType string

const (
	VectorTypeCode            VectorType = "code"
	VectorTypeSemanticSummary VectorType = "semantic_summary"
)

func ParseVectorType(s string) (VectorType, error) {
	switch VectorType(s) {
	case "":
		return VectorTypeSemanticSummary, nil
	case VectorTypeCode, VectorTypeSemanticSummary:
		return VectorType(s), nil
	default:
		return "", fmt.Errorf("unknown vector type %q", s)
	}
}

// VectorDocument is one indexed artifact. ID is the repository-relative file path.
type VectorDocument struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata VectorMetadata `json:"metadata"`
}

type VectorMetadata struct {
	FilePath   string     `json:"filepath"`
	Package    string     `json:"package"`
	VectorType VectorType `json:"vector_type"`
}
