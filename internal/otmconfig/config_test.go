package otmconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateTimestampRequired(t *testing.T) {
	c := Default()
	c.OntoVersion = VersionTimestampArchived
	c.Timestamp = ""
	require.ErrorIs(t, c.Validate(), ErrTimestampRequired)

	c.Timestamp = "2023-01-01"
	require.NoError(t, c.Validate())
}

func TestValidateUnknownOntoVersion(t *testing.T) {
	c := Default()
	c.OntoVersion = "dependencyManifest"
	require.Error(t, c.Validate())
}

func TestParseArgvOverridesDefaults(t *testing.T) {
	c, err := ParseArgv([]string{"--ontoVersion", "latestArchived", "--ontoFormat", "turtle", "--restrictedAccess", "true"})
	require.NoError(t, err)
	require.Equal(t, VersionLatestArchived, c.OntoVersion)
	require.Equal(t, FormatTurtle, c.OntoFormat.Format)
	require.True(t, c.RestrictedAccess)
}

func TestParseArgvRejectsBadTimestampArchived(t *testing.T) {
	_, err := ParseArgv([]string{"--ontoVersion", "timestampArchived"})
	require.ErrorIs(t, err, ErrTimestampRequired)
}

func TestParseArgvUnknownFlagFails(t *testing.T) {
	_, err := ParseArgv([]string{"--notAFlag", "x"})
	require.Error(t, err)
}
