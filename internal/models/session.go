package models

import (
	"encoding/base64"
	"fmt"
	"time"
)

// SessionSchemaVersion is the current session artifact schema.
const SessionSchemaVersion = 1

// SessionPDF is the embedded source document of a session artifact.
type SessionPDF struct {
	Name       string `json:"name"`
	DataBase64 string `json:"dataBase64"`
}

// Bytes decodes the embedded document.
func (p *SessionPDF) Bytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(p.DataBase64)
	if err != nil {
		return nil, fmt.Errorf("decode pdf payload: %w", err)
	}
	return data, nil
}

// SessionArtifact is the portable serialized bundle of a working session:
// source document plus annotation collection. It round-trips exactly through
// export and import.
type SessionArtifact struct {
	SchemaVersion int          `json:"schemaVersion"`
	CreatedAt     time.Time    `json:"createdAt"`
	PDF           SessionPDF   `json:"pdf"`
	Annotations   []Annotation `json:"annotations"`
}
