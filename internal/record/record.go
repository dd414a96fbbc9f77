// Package record holds what progress and result records have in common: the
// not-found error, partial updates and the protected fields they must not touch.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound matched by every kind specific not found error
var ErrNotFound = errors.New("record not found")

// ErrInvalidFields partial update fields do not fit the record
var ErrInvalidFields = errors.New("invalid fields")

type notFoundError struct {
	kind string
}

func (e *notFoundError) Error() string {
	return e.kind + " not found"
}

func (e *notFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NotFound returns "<kind> not found", errors.Is(err, ErrNotFound) holds
func NotFound(kind string) error {
	return &notFoundError{kind}
}

// ProtectedFields can not be changed by a partial update
var ProtectedFields = []string{"id", "userId"}

// Merge shallow merges fields onto the JSON representation of rec and decodes the
// result into a fresh R. Keys listed in ProtectedFields are ignored, a nil value
// removes the key
func Merge[R any](rec R, fields map[string]interface{}) (R, error) {
	var out R

	raw, err := json.Marshal(rec)
	if err != nil {
		return out, fmt.Errorf("merge: %w", err)
	}
	doc := make(map[string]interface{})
	if err := json.Unmarshal(raw, &doc); err != nil {
		return out, fmt.Errorf("merge: %w", err)
	}

	for k, v := range fields {
		if isProtected(k) {
			continue
		}
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}

	if raw, err = json.Marshal(doc); err != nil {
		return out, fmt.Errorf("merge: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: %s", ErrInvalidFields, err)
	}
	return out, nil
}

func isProtected(key string) bool {
	for _, p := range ProtectedFields {
		if p == key {
			return true
		}
	}
	return false
}
