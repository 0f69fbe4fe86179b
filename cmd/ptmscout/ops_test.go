package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ptmYAML = `ptms:
  - {id: "1", name: Phosphorylation, keywords: [Phospho]}
  - {id: "2", name: Phosphoserine, target: S, parent_id: "1", keywords: [Phospho]}
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestValidateCmd(t *testing.T) {
	dir := t.TempDir()
	ptms := writeFile(t, dir, "ptms.yaml", ptmYAML)

	run := func(args ...string) (string, error) {
		cmd := newValidateCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)
		err := cmd.Execute()
		return out.String(), err
	}

	t.Run("Should accept a clean file", func(t *testing.T) {
		data := writeFile(t, dir, "clean.tsv", "acc\tpeptide\tmod\tdata:time(min):0\n"+
			"P12345\tPEPsTIDE\tPhospho\t1.5\n")
		out, err := run("--ptms", ptms, data)
		require.NoError(t, err)
		assert.Contains(t, out, "column 1\taccession")
		assert.Contains(t, out, "1 rows ok")
	})

	t.Run("Should report row problems", func(t *testing.T) {
		data := writeFile(t, dir, "bad.tsv", "acc\tpeptide\tmod\tdata:time(min):0\n"+
			"P12345\tPEPsTIDE\tGlycosylation\t1.5\n")
		out, err := run("--ptms", ptms, data)
		assert.ErrorContains(t, err, "1 problems found")
		assert.Contains(t, out, "Line 1")
	})
}
