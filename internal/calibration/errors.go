package calibration

import "fmt"

type TemplateNotFoundError struct {
	Kind Kind
	// Key is the mount or serial the lookup was made for. Empty when the
	// template set itself was empty.
	Key string
}

func (e *TemplateNotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("no %s templates found", e.Kind)
	}
	return fmt.Sprintf("no %s template found for %q", e.Kind, e.Key)
}

// SchemaMismatchError reports a template document that is missing a
// mandatory field or has it in an unusable shape. Templates are never
// auto-corrected.
type SchemaMismatchError struct {
	Document string
	Field    string
	Reason   string
}

func (e *SchemaMismatchError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s template: %s", e.Document, e.Reason)
	}
	return fmt.Sprintf("%s template: field %q %s", e.Document, e.Field, e.Reason)
}

func missingField(document, field string) error {
	return &SchemaMismatchError{Document: document, Field: field, Reason: "is missing"}
}
