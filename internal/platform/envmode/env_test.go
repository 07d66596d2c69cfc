package envmode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseEnvironmentRecognizesKnownValuesCaseInsensitively(t *testing.T) {
	env, ok := ParseEnvironment(" PRODUCTION ")
	assert.True(t, ok)
	assert.Equal(t, Production, env)

	env, ok = ParseEnvironment("Testing")
	assert.True(t, ok)
	assert.Equal(t, Testing, env)
}

func TestParseEnvironmentRejectsUnknownValue(t *testing.T) {
	env, ok := ParseEnvironment("staging")
	assert.False(t, ok)
	assert.Equal(t, Development, env)
}

func TestEnvPrefersEnrichEnvOverLegacyEnvironment(t *testing.T) {
	t.Setenv("ENRICH_ENV", "production")
	t.Setenv("ENVIRONMENT", "testing")
	assert.Equal(t, Production, Env())
}

func TestEnvFallsBackToLegacyEnvironmentVar(t *testing.T) {
	t.Setenv("ENRICH_ENV", "")
	t.Setenv("ENVIRONMENT", "testing")
	assert.Equal(t, Testing, Env())
}

func TestEnvDefaultsToDevelopmentWhenUnset(t *testing.T) {
	t.Setenv("ENRICH_ENV", "")
	t.Setenv("ENVIRONMENT", "")
	assert.Equal(t, Development, Env())
}

func TestIsProductionAndIsDevelopmentOrTesting(t *testing.T) {
	t.Setenv("ENRICH_ENV", "production")
	t.Setenv("ENVIRONMENT", "")
	assert.True(t, IsProduction())
	assert.False(t, IsDevelopmentOrTesting())

	t.Setenv("ENRICH_ENV", "testing")
	assert.True(t, IsTesting())
	assert.True(t, IsDevelopmentOrTesting())
}

func TestParseEnvIntParsesOrReportsNotOk(t *testing.T) {
	t.Setenv("ENVMODE_TEST_INT", "7")
	v, ok := ParseEnvInt("ENVMODE_TEST_INT")
	assert.True(t, ok)
	assert.Equal(t, 7, v)

	t.Setenv("ENVMODE_TEST_INT_BAD", "nope")
	_, ok = ParseEnvInt("ENVMODE_TEST_INT_BAD")
	assert.False(t, ok)

	_, ok = ParseEnvInt("ENVMODE_TEST_INT_UNSET")
	assert.False(t, ok)
}

func TestParseEnvDurationParsesOrReportsNotOk(t *testing.T) {
	t.Setenv("ENVMODE_TEST_DURATION", "2s")
	d, ok := ParseEnvDuration("ENVMODE_TEST_DURATION")
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, d)

	_, ok = ParseEnvDuration("ENVMODE_TEST_DURATION_UNSET")
	assert.False(t, ok)
}
