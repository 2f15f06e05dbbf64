package queue

import "fmt"

// EventType names a codebase change the worker reacts to.
type EventType string

const (
	EventPackageChanged EventType = "package_changed"
	EventFileChanged    EventType = "file_changed"
	EventFileRemoved    EventType = "file_removed"
)

// Event is what producers publish. FilePath is repository-relative.
type Event struct {
	Type     EventType
	Project  string
	Package  string
	FilePath string
	TraceID  *string
	Attempt  int
}

func (e Event) validate() error {
	if e.Project == "" {
		return fmt.Errorf("missing project")
	}
	switch e.Type {
	case EventPackageChanged:
		if e.Package == "" {
			return fmt.Errorf("missing package")
		}
	case EventFileChanged, EventFileRemoved:
		if e.FilePath == "" {
			return fmt.Errorf("missing file_path")
		}
	case "":
		return fmt.Errorf("missing event_type")
	default:
		return fmt.Errorf("unknown event_type %q", e.Type)
	}
	return nil
}
