package sequence

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatCode(t *testing.T) {
	code, err := FormatCode("TXN", "251015", 37)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^TXN-251015-011[A-Z2-9]{2}$`), code)
}
