package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := map[string]struct {
		input    []string
		expected []string
	}{
		"nil stays nil":            {input: nil, expected: nil},
		"blank entries dropped":    {input: []string{" ", "", "fbi-vault"}, expected: []string{"fbi-vault"}},
		"first occurrence kept":    {input: []string{"nara-jfk", " fbi-vault", "nara-jfk "}, expected: []string{"nara-jfk", "fbi-vault"}},
		"case is significant":      {input: []string{"FBI", "fbi"}, expected: []string{"FBI", "fbi"}},
		"all blank yields nothing": {input: []string{" ", "\t"}, expected: []string{}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, DedupeAndTrim(tc.input))
		})
	}
}

func TestDedupeAndTrimLower(t *testing.T) {
	assert.Equal(t, []string{"auditor", "operator"}, DedupeAndTrimLower([]string{" Auditor", "auditor", "OPERATOR"}))
}
