// Package session serializes the working state (source document plus
// annotations) to and from portable artifacts, and renders export formats.
package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/margolab/margo/internal/models"
)

// ErrInvalidSession is returned when an artifact fails structural validation
// on import. Import never partially applies: on this error the live state
// must remain untouched.
var ErrInvalidSession = errors.New("invalid session artifact")

// Mutator is the document-mutation engine collaborator used for annotated
// export.
type Mutator interface {
	Apply(src []byte, anns []models.Annotation) ([]byte, error)
}

// Export bundles the source document and annotation collection into an
// artifact. It is a pure function of its inputs; zero annotations still
// produce a valid artifact with an empty collection.
func Export(name string, pdfBytes []byte, anns []models.Annotation) *models.SessionArtifact {
	collection := make([]models.Annotation, len(anns))
	copy(collection, anns)
	return &models.SessionArtifact{
		SchemaVersion: models.SessionSchemaVersion,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
		PDF: models.SessionPDF{
			Name:       name,
			DataBase64: base64.StdEncoding.EncodeToString(pdfBytes),
		},
		Annotations: collection,
	}
}

// Encode serializes an artifact to JSON.
func Encode(artifact *models.SessionArtifact) ([]byte, error) {
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return data, nil
}

// envelope mirrors SessionArtifact with pointer fields so that missing
// required fields are distinguishable from empty ones.
type envelope struct {
	SchemaVersion int                  `json:"schemaVersion"`
	CreatedAt     time.Time            `json:"createdAt"`
	PDF           *models.SessionPDF   `json:"pdf"`
	Annotations   *[]models.Annotation `json:"annotations"`
}

// Decode parses and validates an artifact. Every validation failure wraps
// ErrInvalidSession; callers must not have applied any state change before
// Decode returns successfully.
func Decode(data []byte) (*models.SessionArtifact, []byte, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if env.PDF == nil {
		return nil, nil, fmt.Errorf("%w: missing pdf field", ErrInvalidSession)
	}
	if env.PDF.DataBase64 == "" {
		return nil, nil, fmt.Errorf("%w: missing pdf payload", ErrInvalidSession)
	}
	if env.Annotations == nil {
		return nil, nil, fmt.Errorf("%w: missing annotations field", ErrInvalidSession)
	}
	if env.SchemaVersion < 1 || env.SchemaVersion > models.SessionSchemaVersion {
		return nil, nil, fmt.Errorf("%w: unsupported schema version %d", ErrInvalidSession, env.SchemaVersion)
	}
	pdfBytes, err := env.PDF.Bytes()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	for i := range *env.Annotations {
		if err := (*env.Annotations)[i].Validate(0); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
		}
	}
	artifact := &models.SessionArtifact{
		SchemaVersion: env.SchemaVersion,
		CreatedAt:     env.CreatedAt,
		PDF:           *env.PDF,
		Annotations:   *env.Annotations,
	}
	return artifact, pdfBytes, nil
}

// ExportAnnotated renders the annotated copy of the source document by
// delegating drawing to the mutation engine. The in-memory source is never
// modified.
func ExportAnnotated(m Mutator, src []byte, anns []models.Annotation) ([]byte, error) {
	out, err := m.Apply(src, anns)
	if err != nil {
		return nil, fmt.Errorf("export annotated document: %w", err)
	}
	return out, nil
}
