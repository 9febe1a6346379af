package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "check-browser", "submit-json"}, names)
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestSubmitJSONRequiresFile(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"submit-json"})
	assert.Error(t, root.Execute())
}

func TestSubmitJSONDryRun(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(img, []byte("\x89PNG\r\n\x1a\n"), 0o644))
	feed := filepath.Join(dir, "feed.json")
	require.NoError(t, os.WriteFile(feed, []byte(`[{"content": "Morning run #fitness", "images": "`+img+`"}]`), 0o644))

	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("media:\n  tempDir: "+filepath.Join(dir, "tmp")+"\n"), 0o644))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", cfgFile, "submit-json", "--dry-run", feed})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), `"Morning run"`)
	assert.Contains(t, out.String(), "topics=[fitness]")
	assert.Contains(t, out.String(), "image_note=true")
}
