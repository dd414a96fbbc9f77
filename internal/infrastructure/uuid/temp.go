package uuid

import "strings"

// TempPrefix marks ids assigned on the client before the server has seen the record
const TempPrefix = "temp_"

// TempGenerator wraps another generator and prefixes its ids with TempPrefix
type TempGenerator struct {
	inner Generator
}

var _ Generator = &TempGenerator{}

// NewTempGenerator create a temporary id generator on top of inner
func NewTempGenerator(inner Generator) *TempGenerator {
	return &TempGenerator{inner: inner}
}

// Generate generate a temporary id
func (tg *TempGenerator) Generate() (string, error) {
	id, err := tg.inner.Generate()
	if err != nil {
		return "", err
	}
	return TempPrefix + id, nil
}

// IsTemp reports whether id was produced by a TempGenerator, empty ids count as temporary
func IsTemp(id string) bool {
	return id == "" || strings.HasPrefix(id, TempPrefix)
}
