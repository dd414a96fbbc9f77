package uuid

import guuid "github.com/google/uuid"

// GoogleUUIDGenerator RFC 4122 version 4 ids
type GoogleUUIDGenerator struct{}

var _ Generator = &GoogleUUIDGenerator{}

// Generate generate UUID
func (GoogleUUIDGenerator) Generate() (string, error) {
	id, err := guuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
