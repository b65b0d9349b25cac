package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePolicies(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, validatePolicies(&out, []string{"../testdata/policies/liquidity_aware.yaml"}))
		assert.Contains(t, out.String(), "liquidity_aware.yaml: ok")
	})

	t.Run("every violation is listed", func(t *testing.T) {
		// GIVEN a valid file and one with an unknown field and a foreign action
		var out bytes.Buffer

		// WHEN both are validated
		err := validatePolicies(&out, []string{
			"../testdata/policies/liquidity_aware.yaml",
			"../testdata/policies/broken.yaml",
		})

		// THEN the command fails and names each violation
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 of 2")
		assert.Contains(t, out.String(), "undefined_field")
		assert.Contains(t, out.String(), "invalid_action")
	})

	t.Run("missing file", func(t *testing.T) {
		var out bytes.Buffer
		require.Error(t, validatePolicies(&out, []string{"../testdata/policies/nope.yaml"}))
		assert.Contains(t, out.String(), "nope.yaml:")
	})
}
