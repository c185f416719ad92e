package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitrine-app/vitrine/pkg/catalog"
	"github.com/vitrine-app/vitrine/pkg/loader"
	"github.com/vitrine-app/vitrine/pkg/validate"
)

const cleanArtifact = "import React from 'react';\nexport default () => null;\n"
const evalArtifact = "import React from 'react';\nexport default () => eval(code);\n"

func seedArtifacts(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestRunNoCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"vitrine"}, &out, &errOut)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "usage:")
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"vitrine", "frobnicate"}, &out, &errOut)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "unknown command")
}

func TestScanCleanCatalog(t *testing.T) {
	dir := seedArtifacts(t, map[string]string{"greeter.jsx": cleanArtifact})
	manifest := filepath.Join(t.TempDir(), "manifest.json")

	var out, errOut bytes.Buffer
	code := Run([]string{"vitrine", "scan", "-dir", dir, "-manifest", manifest}, &out, &errOut)
	assert.Equal(t, 0, code, "stderr: %s", errOut.String())
	assert.Contains(t, out.String(), "greeter")
	assert.Contains(t, out.String(), "ok")
	assert.Contains(t, out.String(), "0 rejected")

	data, err := os.ReadFile(manifest)
	require.NoError(t, err)
	var entries []catalog.ManifestEntry
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsValid)
}

func TestScanRejectsAndStillWritesManifest(t *testing.T) {
	dir := seedArtifacts(t, map[string]string{
		"greeter.jsx": cleanArtifact,
		"sketchy.jsx": evalArtifact,
	})
	manifest := filepath.Join(t.TempDir(), "manifest.json")

	var out, errOut bytes.Buffer
	code := Run([]string{"vitrine", "scan", "-dir", dir, "-manifest", manifest}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "rejected")
	assert.Contains(t, out.String(), "[security]")

	// Rejected artifacts still appear in the manifest, flagged invalid.
	data, err := os.ReadFile(manifest)
	require.NoError(t, err)
	var entries []catalog.ManifestEntry
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 2)
}

func TestValidateSingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widget.jsx")
	require.NoError(t, os.WriteFile(path, []byte(cleanArtifact), 0o644))

	var out, errOut bytes.Buffer
	code := Run([]string{"vitrine", "validate", path}, &out, &errOut)
	assert.Equal(t, 0, code, "stderr: %s", errOut.String())

	var verdict map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &verdict))
	assert.Equal(t, true, verdict["is_valid"])
}

func TestValidateRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sketchy.jsx")
	require.NoError(t, os.WriteFile(path, []byte(evalArtifact), 0o644))

	var out, errOut bytes.Buffer
	code := Run([]string{"vitrine", "validate", path}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), `"is_valid": false`)
}

func TestValidateWithPolicyOverride(t *testing.T) {
	policyPath := filepath.Join(t.TempDir(), "lenient.json")
	require.NoError(t, os.WriteFile(policyPath, []byte(`{
		"version": "1.0.0",
		"allowed_packages": ["react", "left-pad"]
	}`), 0o644))

	path := filepath.Join(t.TempDir(), "padded.jsx")
	require.NoError(t, os.WriteFile(path,
		[]byte("import React from 'react';\nimport leftPad from 'left-pad';\nexport default () => null;\n"), 0o644))

	var out, errOut bytes.Buffer
	code := Run([]string{"vitrine", "validate", "-policy", policyPath, path}, &out, &errOut)
	assert.Equal(t, 0, code, "stderr: %s", errOut.String())
}

func newServerUnderTest(t *testing.T, dir string) http.Handler {
	t.Helper()
	ld := loader.New(catalog.NewFS(dir), validate.New())
	require.NoError(t, ld.Refresh(context.Background()))
	return newAPIHandler(ld, dir)
}

func TestAPIArtifacts(t *testing.T) {
	dir := seedArtifacts(t, map[string]string{"greeter.jsx": cleanArtifact})
	h := newServerUnderTest(t, dir)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/artifacts", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var arts []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &arts))
	require.Len(t, arts, 1)
	assert.Equal(t, "greeter", arts[0]["id"])
}

func TestAPIVerdict(t *testing.T) {
	dir := seedArtifacts(t, map[string]string{"sketchy.jsx": evalArtifact})
	h := newServerUnderTest(t, dir)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/verdict?id=sketchy", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"is_valid":false`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/verdict?id=ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIArtifactSource(t *testing.T) {
	dir := seedArtifacts(t, map[string]string{"greeter.jsx": cleanArtifact})
	h := newServerUnderTest(t, dir)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/artifact-source?path=greeter.jsx", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, cleanArtifact, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/artifact-source", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/artifact-source?path=nope.jsx", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIRefresh(t *testing.T) {
	dir := seedArtifacts(t, map[string]string{"greeter.jsx": cleanArtifact})
	h := newServerUnderTest(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "counter.jsx"), []byte(cleanArtifact), 0o644))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"artifacts":2`)
}

func TestResolveWithin(t *testing.T) {
	base := t.TempDir()
	cases := []struct {
		rel string
		ok  bool
	}{
		{"greeter.jsx", true},
		{"nested/widget.jsx", true},
		{"../outside.jsx", false},
		{"../../etc/passwd", false},
		{"..", false},
	}
	for _, tc := range cases {
		full, ok := resolveWithin(base, tc.rel)
		if tc.ok {
			assert.True(t, ok, "path %q should resolve", tc.rel)
			assert.True(t, filepath.IsAbs(full))
		} else {
			assert.False(t, ok, "path %q must be rejected, not remapped", tc.rel)
		}
	}
}

func TestAPIArtifactSourceRejectsTraversal(t *testing.T) {
	dir := seedArtifacts(t, map[string]string{"greeter.jsx": cleanArtifact})
	// A sibling of the artifacts dir must stay unreachable even though a
	// cleaned traversal path would land back inside it by name.
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(dir), "greeter.jsx"), []byte("outside"), 0o644))
	h := newServerUnderTest(t, dir)

	for _, path := range []string{"../greeter.jsx", "..%2Fgreeter.jsx", "/etc/passwd", ".."} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/artifact-source?path="+path, nil))
		assert.Equal(t, http.StatusForbidden, rec.Code, "path %q", path)
	}
}
