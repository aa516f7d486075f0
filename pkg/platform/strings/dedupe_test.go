package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{name: "empty slice", input: []string{}, expected: []string{}},
		{name: "trims whitespace", input: []string{"  ldap  ", "hris  "}, expected: []string{"ldap", "hris"}},
		{name: "removes duplicates preserving order", input: []string{"cis", "ldap", "cis"}, expected: []string{"cis", "ldap"}},
		{name: "removes empty strings", input: []string{"ldap", "", "  "}, expected: []string{"ldap"}},
		{name: "preserves case", input: []string{"LDAP", "ldap"}, expected: []string{"LDAP", "ldap"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, SplitList(" "))
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, SplitList("kafka-1:9092, kafka-2:9092,,kafka-1:9092"))
}
