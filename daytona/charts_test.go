package daytona

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChartUnmarshalByType(t *testing.T) {
	var chart Chart
	require.NoError(t, json.Unmarshal([]byte(`{
		"type": "composite_chart",
		"title": "All",
		"elements": [
			{"type": "line", "x_label": "t", "elements": [{"label": "s", "points": [[1, 2], ["a", 3.5]]}]},
			{"type": "box_and_whisker", "elements": [{"label": "b", "min": 1, "median": 2, "max": 3, "outliers": [9]}]},
			{"type": "sparkline", "elements": [1, 2, 3]}
		]
	}`), &chart))
	assert.Equal(t, ChartComposite, chart.Type)
	assert.Equal(t, "All", chart.Title)
	require.Len(t, chart.Charts, 3)

	line := chart.Charts[0]
	assert.Equal(t, ChartLine, line.Type)
	assert.Equal(t, "t", line.XLabel)
	require.Len(t, line.Lines, 1)
	assert.Equal(t, []interface{}{"a", 3.5}, line.Lines[0].Points[1])

	box := chart.Charts[1]
	require.Len(t, box.Boxes, 1)
	assert.Equal(t, []float64{9}, box.Boxes[0].Outliers)

	assert.Equal(t, ChartUnknown, chart.Charts[2].Type)
	assert.NotEmpty(t, chart.Charts[2].Raw)

	var empty Chart
	require.NoError(t, json.Unmarshal([]byte(`{"title":"x","elements":null}`), &empty))
	assert.Equal(t, ChartUnknown, empty.Type)
}

func TestExtractArtifacts(t *testing.T) {
	out, charts := extractArtifacts("plain\noutput")
	assert.Equal(t, "plain\noutput", out)
	assert.NotNil(t, charts)
	assert.Empty(t, charts)

	output := strings.Join([]string{
		"before",
		artifactPrefix + `{"type":"chart","value":{"type":"scatter","elements":[]}}`,
		artifactPrefix + `{"type":"table","value":{}}`,
		artifactPrefix + `not json`,
		"  " + artifactPrefix + "indented lines are ordinary output",
		"after",
	}, "\r\n")
	out, charts = extractArtifacts(output)
	assert.Equal(t, "before\r\n  "+artifactPrefix+"indented lines are ordinary output\r\nafter", out)
	require.Len(t, charts, 1)
	assert.Equal(t, ChartScatter, charts[0].Type)
}

func TestCodeBuilders(t *testing.T) {
	_, err := codeBuilderFor("ruby")
	assert.Error(t, err)

	b64Arg := regexp.MustCompile(`'([A-Za-z0-9+/=]+)'`)
	code := "console.log('it''s')"
	for _, lang := range []string{LanguageJavaScript, LanguageTypeScript} {
		b, err := codeBuilderFor(lang)
		require.NoError(t, err)
		assert.Equal(t, lang, b.Language())
		cmd := b.RunCommand(code, []string{"a b", "it's"})
		m := b64Arg.FindStringSubmatch(cmd)
		require.NotNil(t, m, cmd)
		decoded, err := base64.StdEncoding.DecodeString(m[1])
		require.NoError(t, err)
		assert.Equal(t, code, string(decoded))
		assert.Contains(t, cmd, `'a b' 'it'\''s'`)
		assert.Contains(t, cmd, `grep -vE "npm notice"`)
	}

	py, err := codeBuilderFor("")
	require.NoError(t, err)
	assert.Equal(t, LanguagePython, py.Language())
	assert.NotContains(t, py.RunCommand("x", nil), "  ")

	assert.Equal(t, `'plain'`, shellQuote("plain"))
	assert.Equal(t, `'a'\''b'`, shellQuote("a'b"))
}
