package mongodb

import (
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
)

// IsDuplicateKey reports whether err represents a unique index violation.
// Repositories translate this into their own ErrAlreadyExists sentinels.
func IsDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

// IsNoDocuments reports whether err is the driver's missing-document result.
func IsNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
