package daytona

import (
	"encoding/json"
	"strings"
)

// artifactPrefix 标记沙箱解释器输出的结构化产物行。
const artifactPrefix = "dtn_artifact_k39fd2:"

// ChartType 图表类型。
type ChartType string

const (
	ChartLine          ChartType = "line"
	ChartScatter       ChartType = "scatter"
	ChartBar           ChartType = "bar"
	ChartPie           ChartType = "pie"
	ChartBoxAndWhisker ChartType = "box_and_whisker"
	ChartComposite     ChartType = "composite_chart"
	ChartUnknown       ChartType = "unknown"
)

// PointSeries 折线图或散点图中的一组点，每个点为 [x, y]，坐标可能是数字或字符串。
type PointSeries struct {
	Label  string          `json:"label"`
	Points [][]interface{} `json:"points"`
	Color  string          `json:"color,omitempty"`
	Marker string          `json:"marker,omitempty"`
}

// BarElement 柱状图中的一根柱。
type BarElement struct {
	Label string  `json:"label"`
	Group string  `json:"group"`
	Value float64 `json:"value"`
}

// PieElement 饼图中的一块。
type PieElement struct {
	Label  string  `json:"label"`
	Angle  float64 `json:"angle"`
	Radius float64 `json:"radius"`
}

// BoxAndWhiskerElement 箱线图中的一个箱体。
type BoxAndWhiskerElement struct {
	Label         string    `json:"label"`
	Min           float64   `json:"min"`
	FirstQuartile float64   `json:"first_quartile"`
	Median        float64   `json:"median"`
	ThirdQuartile float64   `json:"third_quartile"`
	Max           float64   `json:"max"`
	Outliers      []float64 `json:"outliers"`
}

// Chart 从解释器输出中提取的图表元数据。
// 不同 Type 只会填充对应的元素字段：Lines 用于 line 与 scatter，Charts 用于 composite_chart。
type Chart struct {
	Type  ChartType `json:"type"`
	Title string    `json:"title,omitempty"`
	// PNG 是 base64 编码的渲染结果
	PNG string `json:"png,omitempty"`

	XLabel      string        `json:"x_label,omitempty"`
	YLabel      string        `json:"y_label,omitempty"`
	XTicks      []interface{} `json:"x_ticks,omitempty"`
	XTickLabels []string      `json:"x_tick_labels,omitempty"`
	XScale      string        `json:"x_scale,omitempty"`
	YTicks      []interface{} `json:"y_ticks,omitempty"`
	YTickLabels []string      `json:"y_tick_labels,omitempty"`
	YScale      string        `json:"y_scale,omitempty"`

	Lines  []PointSeries          `json:"-"`
	Bars   []BarElement           `json:"-"`
	Pies   []PieElement           `json:"-"`
	Boxes  []BoxAndWhiskerElement `json:"-"`
	Charts []Chart                `json:"-"`

	// Raw 是原始 JSON
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON 按 type 解析 elements。
func (c *Chart) UnmarshalJSON(data []byte) error {
	type plain Chart
	var head struct {
		plain
		Elements json.RawMessage `json:"elements"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	*c = Chart(head.plain)
	c.Raw = append(json.RawMessage(nil), data...)
	if c.Type == "" {
		c.Type = ChartUnknown
	}
	if len(head.Elements) == 0 || string(head.Elements) == "null" {
		return nil
	}

	switch c.Type {
	case ChartLine, ChartScatter:
		return json.Unmarshal(head.Elements, &c.Lines)
	case ChartBar:
		return json.Unmarshal(head.Elements, &c.Bars)
	case ChartPie:
		return json.Unmarshal(head.Elements, &c.Pies)
	case ChartBoxAndWhisker:
		return json.Unmarshal(head.Elements, &c.Boxes)
	case ChartComposite:
		return json.Unmarshal(head.Elements, &c.Charts)
	default:
		c.Type = ChartUnknown
	}
	return nil
}

// ExecutionArtifacts 命令执行的产物。
type ExecutionArtifacts struct {
	Stdout string
	Charts []Chart
}

type artifactLine struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// extractArtifacts 移除输出中的产物行，返回剩余输出与解析出的图表。无法解析的产物行被丢弃。
func extractArtifacts(output string) (string, []Chart) {
	if !strings.Contains(output, artifactPrefix) {
		return output, []Chart{}
	}
	charts := []Chart{}
	var kept strings.Builder
	for _, line := range strings.SplitAfter(output, "\n") {
		trimmed := strings.TrimRight(line, "\r\n")
		if !strings.HasPrefix(trimmed, artifactPrefix) {
			kept.WriteString(line)
			continue
		}
		var artifact artifactLine
		if err := json.Unmarshal([]byte(trimmed[len(artifactPrefix):]), &artifact); err != nil {
			continue
		}
		if artifact.Type != "chart" {
			continue
		}
		var chart Chart
		if err := json.Unmarshal(artifact.Value, &chart); err == nil {
			charts = append(charts, chart)
		}
	}
	return kept.String(), charts
}
