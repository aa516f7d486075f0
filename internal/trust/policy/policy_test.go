package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cis/internal/trust"
)

func TestDefaultRules(t *testing.T) {
	p := Default()

	tests := []struct {
		cond      trust.Condition
		path      string
		publisher string
		allowed   bool
	}{
		{trust.ConditionCreate, "first_name", "ldap", true},
		{trust.ConditionCreate, "first_name", "hris", true},
		{trust.ConditionCreate, "first_name", "cis", false},
		{trust.ConditionUpdate, "active", "hris", true},
		{trust.ConditionUpdate, "active", "access_provider", false},
		{trust.ConditionUpdate, "user_id", "access_provider", false},
		{trust.ConditionCreate, "user_id", "access_provider", true},
		{trust.ConditionUpdate, "access_information.ldap", "ldap", true},
		{trust.ConditionUpdate, "access_information.ldap", "mozilliansorg", false},
		{trust.ConditionUpdate, "access_information.mozilliansorg", "mozilliansorg", true},
		{trust.ConditionUpdate, "identities.github_id_v3", "access_provider", true},
		{trust.ConditionUpdate, "staff_information.title", "hris", true},
		{trust.ConditionUpdate, "staff_information.title", "ldap", false},
		{trust.ConditionUpdate, "first_name", "", false},
		{trust.ConditionUpdate, "nickname", "ldap", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.cond)+"/"+tt.path+"/"+tt.publisher, func(t *testing.T) {
			assert.Equal(t, tt.allowed, p.IsAllowed(tt.cond, tt.path, tt.publisher))
		})
	}
}

func TestLookupOrder(t *testing.T) {
	p := New(map[trust.Condition]map[string][]string{
		trust.ConditionUpdate: {
			"access_information":      {"cis"},
			"access_information.ldap": {"ldap"},
		},
	})

	publishers, ok := p.Publishers(trust.ConditionUpdate, "access_information.ldap")
	require.True(t, ok)
	assert.Equal(t, []string{"ldap"}, publishers, "full path wins over group")

	publishers, ok = p.Publishers(trust.ConditionUpdate, "access_information.hris")
	require.True(t, ok)
	assert.Equal(t, []string{"cis"}, publishers, "falls back to the group rule")

	_, ok = p.Publishers(trust.ConditionCreate, "access_information.hris")
	assert.False(t, ok, "missing condition denies")
}

func TestParse(t *testing.T) {
	t.Run("nested and flat rules, publishers normalized", func(t *testing.T) {
		p, err := Parse([]byte(`{
			"create": {"first_name": [" ldap ", "ldap", "hris"], "access_information": {"ldap": ["ldap"]}},
			"update": {}
		}`))
		require.NoError(t, err)
		publishers, ok := p.Publishers(trust.ConditionCreate, "first_name")
		require.True(t, ok)
		assert.Equal(t, []string{"ldap", "hris"}, publishers)
		assert.True(t, p.IsAllowed(trust.ConditionCreate, "access_information.ldap", "ldap"))
		assert.False(t, p.IsAllowed(trust.ConditionUpdate, "first_name", "ldap"))
	})

	for name, doc := range map[string]string{
		"unknown condition": `{"delete": {}}`,
		"scalar rule":       `{"create": {"first_name": "ldap"}}`,
		"not JSON":          `{`,
	} {
		t.Run("rejects "+name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestMayChangeDisplay(t *testing.T) {
	p := Default()
	tests := []struct {
		path      string
		publisher string
		want      bool
	}{
		{"first_name", "mozilliansorg", true},
		{"staff_information.title", "cis", true},
		{"identities.github_id_v3", "mozilliansorg", true},
		{"access_information.mozilliansorg", "mozilliansorg", true},
		{"access_information.ldap", "mozilliansorg", false},
		{"primary_email", "mozilliansorg", false},
		{"user_id", "cis", false},
		{"first_name", "ldap", false},
	}
	for _, tt := range tests {
		t.Run(tt.path+"/"+tt.publisher, func(t *testing.T) {
			assert.Equal(t, tt.want, p.MayChangeDisplay(tt.path, tt.publisher))
		})
	}
}
