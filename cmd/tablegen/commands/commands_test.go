package commands

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	extractFile, extractFields, extractFormat, extractOutput = "", nil, "md", "-"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestReadURLs(t *testing.T) {
	input := `# supplier pages
https://shop.example/p/1

   https://shop.example/p/2
#https://shop.example/skipped
`
	urls, err := readURLs(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://shop.example/p/1", "https://shop.example/p/2"}, urls)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "tablegen dev\n", out)
}

func TestExtractRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"No urls", []string{"extract"}, "no urls given"},
		{"Unknown format", []string{"extract", "--format", "docx", "https://a.example"}, "unsupported format"},
		{"Xlsx to stdout", []string{"extract", "--format", "xlsx", "https://a.example"}, "xlsx output needs --output"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExtractWritesTable(t *testing.T) {
	t.Setenv("FETCH_CLOUDFLARE_BYPASS", "false")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"name":"API Lamp","price":"12.50"}}`))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	list := filepath.Join(dir, "urls.txt")
	require.NoError(t, os.WriteFile(list, []byte("# lamps\n"+srv.URL+"/lamp\n"), 0o600))

	out, err := execute(t, "extract", "--file", list, "--fields", "name,price", "--format", "csv", srv.URL+"/first")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "url,name,price,error", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], srv.URL+"/first,API Lamp,"), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], srv.URL+"/lamp,API Lamp,"), lines[2])

	target := filepath.Join(dir, "table.xlsx")
	_, err = execute(t, "extract", "--format", "xlsx", "--output", target, srv.URL+"/lamp")
	require.NoError(t, err)
	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}
