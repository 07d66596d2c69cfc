package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequireLicenseAcceptedOnConfig(t *testing.T) {
	assert.NoError(t, RequireLicense(&Config{LicenseAccepted: true}))
}

func TestRequireLicenseAcceptedViaEnv(t *testing.T) {
	t.Setenv("ACCEPT_LIMITED_USE_LICENSE", "1")
	assert.NoError(t, RequireLicense(&Config{LicenseAccepted: false}))
}

func TestRequireLicenseRejectedWhenNeitherSet(t *testing.T) {
	assert.Error(t, RequireLicense(&Config{LicenseAccepted: false}))
}
