package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EntryState represents the verification state of an index entry
type EntryState string

const (
	EntryStateUnknown     EntryState = "Unknown"
	EntryStateValid       EntryState = "Valid"
	EntryStateInvalid     EntryState = "Invalid"
	EntryStateUnreachable EntryState = "Unreachable"
)

// Entry is a registered FAIR Data Point endpoint, keyed by its client URL
type Entry struct {
	ID                primitive.ObjectID  `json:"-" bson:"_id,omitempty"`
	ClientURL         string              `json:"clientUrl" bson:"client_url"`
	State             EntryState          `json:"state" bson:"state"`
	RegistrationTime  time.Time           `json:"registrationTime" bson:"registration_time"`
	ModificationTime  time.Time           `json:"modificationTime" bson:"modification_time"`
	LastRetrievalTime *time.Time          `json:"lastRetrievalTime,omitempty" bson:"last_retrieval_time,omitempty"`
	CurrentMetadata   *RepositoryMetadata `json:"currentMetadata,omitempty" bson:"current_metadata,omitempty"`
}

// IsActive reports whether the entry pinged within the given duration
func (e *Entry) IsActive(validFor time.Duration, now time.Time) bool {
	return now.Sub(e.ModificationTime) <= validFor
}

// RepositoryMetadata is the snapshot extracted from a repository's RDF description
type RepositoryMetadata struct {
	MetadataVersion int               `json:"metadataVersion" bson:"metadata_version"`
	RepositoryURI   string            `json:"repositoryUri" bson:"repository_uri"`
	Metadata        map[string]string `json:"metadata" bson:"metadata"`
}
