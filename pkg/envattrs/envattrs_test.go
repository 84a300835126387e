package envattrs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollect(t *testing.T) {
	environ := []string{
		"HOME=/root",
		"LABRAT_TEST_BUILD_ID=42",
		"LABRAT_TEST_RACK=b2=east",
		"LABRAT_TEST_=ignored",
		"LABRAT_TESTX=ignored",
		"labrat_test_lower=ignored",
		"LABRAT_TEST_BUILD_ID=43",
		"MALFORMED",
	}

	assert.Equal(t, map[string]string{
		"build_id": "43",
		"rack":     "b2=east",
	}, Collect(environ))
}

func TestCollect_Empty(t *testing.T) {
	got := Collect(nil)

	assert.NotNil(t, got)
	assert.Empty(t, got)
}
