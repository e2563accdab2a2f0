package evaluation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"https", "https://example.com/path", false},
		{"http with port", "http://example.com:8080", false},
		{"empty", "  ", true},
		{"relative", "/about", true},
		{"ftp scheme", "ftp://example.com", true},
		{"missing host", "https://", true},
		{"unparsable", "http://%zz", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			u, err := ValidateURL(tc.input)
			if !tc.wantErr {
				require.NoError(t, err)
				require.NotNil(t, u)
				return
			}
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrValidation))
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			require.Equal(t, "url", vErr.Field)
		})
	}
}

func TestParseImpact(t *testing.T) {
	t.Parallel()

	require.Equal(t, ImpactSerious, ParseImpact("Serious"))
	require.Equal(t, ImpactModerate, ParseImpact(" moderate "))
	require.Equal(t, ImpactMinor, ParseImpact("minor"))
	require.Equal(t, ImpactMinor, ParseImpact("catastrophic"))
	require.Less(t, ImpactSerious.Rank(), ImpactModerate.Rank())
	require.Less(t, ImpactModerate.Rank(), ImpactMinor.Rank())
}

func TestDegradedResult(t *testing.T) {
	t.Parallel()

	at := time.Unix(1700000000, 0).UTC()
	res := Degraded("seo", "https://example.com", "1", "boom", at)
	require.Zero(t, res.OverallScore)
	require.Len(t, res.Issues, 1)
	require.Equal(t, "boom", res.Issues[0].Description)
	require.True(t, res.IsDegraded())
	require.Equal(t, at, res.Timestamp)

	res.OverallScore = 40
	require.False(t, res.IsDegraded())
}
