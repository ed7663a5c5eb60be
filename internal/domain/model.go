package domain

import "time"

// ModelArtifact is a serialized trained model. The payload is opaque to
// everything except the classifier package.
type ModelArtifact struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	SchemaKey string    `json:"schemaKey"`
	Data      []byte    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}
