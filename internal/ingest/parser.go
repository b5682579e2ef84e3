package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"
	"sync"

	"soilguard/internal/model"
	"soilguard/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+\-Z]+)`)
	reKV        = regexp.MustCompile(`([a-zA-Z_]+)=([^\s,;]+)`)
)

// Parser turns one line of input into raw reading objects. It accepts JSON
// (object or array), CSV with or without a header row, and plain text with
// key=value pairs after an optional leading timestamp.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

// ParseLine returns nil objects for blank lines and CSV headers.
func (p *Parser) ParseLine(line string) ([]map[string]any, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if objs, err := normalize.Objects([]byte(trim)); err == nil {
			return objs, nil
		}
	}
	if strings.Contains(trim, ",") && !strings.Contains(trim, "=") {
		obj, err := p.csv.Parse(trim)
		if err == nil {
			if obj == nil {
				return nil, nil
			}
			return []map[string]any{obj}, nil
		}
	}
	return []map[string]any{parsePlain(trim)}, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parsePlain(line string) map[string]any {
	obj := map[string]any{}
	ts, _ := extractTimestamp(line)
	if ts != "" {
		obj["dateTime"] = ts
	}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		obj[strings.ToLower(match[1])] = match[2]
	}
	return obj
}

func extractTimestamp(line string) (string, string) {
	m := reTimestamp.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		return strings.TrimSpace(line[m[2]:m[3]]), strings.TrimSpace(line[m[3]:])
	}
	return "", line
}

// CSVParser remembers the header row of a stream. Without one, columns are
// sensorId, dateTime, then every metric in display order.
type CSVParser struct {
	mu     sync.Mutex
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) (map[string]any, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	header := p.header
	if header == nil {
		header = defaultColumns()
	}
	obj := make(map[string]any, len(record))
	for i, name := range header {
		if i >= len(record) {
			break
		}
		if v := strings.TrimSpace(record[i]); v != "" {
			obj[name] = v
		}
	}
	return obj, nil
}

func defaultColumns() []string {
	cols := []string{"sensorid", "datetime"}
	for _, m := range model.AllMetrics {
		cols = append(cols, strings.ToLower(string(m)))
	}
	return cols
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "sensorid", "sensor_id", "datetime", "timestamp", "time", "ts", "sensordataid":
			return true
		}
		if _, err := model.ParseMetric(v); err == nil {
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}
