package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modulePath = "github.com/Thejuampi/rtm-client-go/"

// fullProfile covers every gated file completely.
func fullProfile() string {
	var builder strings.Builder
	builder.WriteString("mode: set\n")
	for _, fileName := range append(append([]string{}, pureFiles...), ioFiles...) {
		builder.WriteString(modulePath + fileName + ":1.1,5.2 4 1\n")
	}
	return builder.String()
}

func TestParseProfile(t *testing.T) {
	files, err := parseProfile(strings.NewReader(`mode: atomic
github.com/x/rtm/pdu.go:10.1,12.2 3 1
github.com/x/rtm/pdu.go:14.1,15.2 2 0

github.com/x/rtm/client.go:1.1,2.2 5 7
`))
	require.NoError(t, err)
	assert.Equal(t, coverage{covered: 3, total: 5}, files["github.com/x/rtm/pdu.go"])
	assert.Equal(t, coverage{covered: 5, total: 5}, files["github.com/x/rtm/client.go"])

	_, err = parseProfile(strings.NewReader("mode: set\nrtm/pdu.go:1.1,2.2 x 1\n"))
	assert.ErrorContains(t, err, "invalid statement count")
}

func TestEvaluate(t *testing.T) {
	t.Run("Should pass a fully covered profile", func(t *testing.T) {
		files, err := parseProfile(strings.NewReader(fullProfile()))
		require.NoError(t, err)
		total, failures := evaluate(files, thresholds{overall: 90, io: 80})
		assert.Empty(t, failures)
		assert.Equal(t, total.covered, total.total)
	})

	t.Run("Should report partial pure files, low io files and missing files", func(t *testing.T) {
		profile := strings.Replace(fullProfile(), modulePath+"rtm/pdu.go:1.1,5.2 4 1", modulePath+"rtm/pdu.go:1.1,5.2 4 0", 1)
		profile = strings.Replace(profile, modulePath+"rtm/client.go:1.1,5.2 4 1\n", modulePath+"rtm/client.go:1.1,5.2 1 1\n"+modulePath+"rtm/client.go:6.1,9.2 3 0\n", 1)
		profile = strings.Replace(profile, modulePath+"rtm/options.go:1.1,5.2 4 1\n", "", 1)
		files, err := parseProfile(strings.NewReader(profile))
		require.NoError(t, err)

		_, failures := evaluate(files, thresholds{overall: 0, io: 80})
		assert.Equal(t, []string{
			"io file rtm/client.go is 25.0% (required 80.0%)",
			"pure file rtm/options.go is missing from coverage profile",
			"pure file rtm/pdu.go is 0.0% (required 100.0%)",
		}, failures)
	})

	t.Run("Should enforce the aggregate threshold", func(t *testing.T) {
		files := map[string]coverage{"rtm/other.go": {covered: 1, total: 2}}
		_, failures := evaluate(files, thresholds{overall: 60})
		assert.Contains(t, failures, "aggregate coverage 50.0% is below 60.0%")
	})
}

func TestRootCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coverage.out")
	require.NoError(t, os.WriteFile(path, []byte(fullProfile()), 0o600))

	var output bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&output)
	cmd.SetArgs([]string{"--profile", path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, output.String(), "coverage gate: PASS")

	cmd = rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--profile", filepath.Join(t.TempDir(), "missing.out")})
	assert.ErrorContains(t, cmd.Execute(), "failed reading profile")
}
