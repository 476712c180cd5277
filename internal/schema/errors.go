package schema

import "errors"

var (
	// ErrSchemaNotFound means no entity exists with the requested id.
	ErrSchemaNotFound = errors.New("schema: entity not found")

	// ErrSchemaVersionNotFound means the entity exists but has no history
	// at the requested version bound.
	ErrSchemaVersionNotFound = errors.New("schema: entity version not found")

	// ErrFieldNotFound means no field exists with the requested id.
	ErrFieldNotFound = errors.New("schema: field not found")

	// ErrFieldNotChanged means an update patch resolved to the field's
	// current shape, so no new version was written.
	ErrFieldNotChanged = errors.New("schema: field not changed")

	// ErrDuplicateID means a create collided with an existing id.
	ErrDuplicateID = errors.New("schema: duplicate id")

	// ErrVersionConflict means concurrent writers exhausted the version
	// allocation retries. The operation can be retried as a whole.
	ErrVersionConflict = errors.New("schema: version conflict")
)
