package source

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/shaiso/orderpipe/internal/domain"
	"gopkg.in/yaml.v3"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// FormatFromName определяет формат по расширению файла или ключа объекта.
func FormatFromName(name string) (domain.SourceType, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv":
		return domain.SourceTypeCSV, nil
	case ".json":
		return domain.SourceTypeJSON, nil
	case ".yaml", ".yml":
		return domain.SourceTypeYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// Parse разбирает содержимое источника в записи.
func Parse(format domain.SourceType, data []byte) ([]Record, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	switch format {
	case domain.SourceTypeCSV:
		return parseCSV(data)
	case domain.SourceTypeJSON:
		return parseJSON(data)
	case domain.SourceTypeYAML:
		return parseYAML(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// parseCSV читает CSV с заголовком. Пустые строки пропускаются.
func parseCSV(data []byte) ([]Record, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var records []Record
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}

		fields := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(row) {
				fields[name] = row[i]
			}
		}
		records = append(records, Record{Fields: fields})
	}
	return records, nil
}

// parseJSON принимает массив объектов или одиночный объект.
// Raw хранит исходный текст каждого объекта без изменений.
func parseJSON(data []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty json document")
	}

	var items []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode json array: %w", err)
		}
	case '{':
		items = []json.RawMessage{trimmed}
	default:
		return nil, fmt.Errorf("json document must be an object or an array")
	}

	records := make([]Record, 0, len(items))
	for i, item := range items {
		dec := json.NewDecoder(bytes.NewReader(item))
		dec.UseNumber()

		var fields map[string]any
		if err := dec.Decode(&fields); err != nil {
			return nil, fmt.Errorf("decode json record %d: %w", i, err)
		}
		if fields == nil {
			return nil, fmt.Errorf("json record %d is not an object", i)
		}

		raw := string(item)
		records = append(records, Record{Fields: fields, Raw: &raw})
	}
	return records, nil
}

// parseYAML принимает список отображений или одиночное отображение.
// Raw хранится в JSON, чтобы все структурированные источники читались одинаково.
func parseYAML(data []byte) ([]Record, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	var items []any
	switch t := doc.(type) {
	case nil:
		return nil, nil
	case []any:
		items = t
	case map[string]any:
		items = []any{t}
	default:
		return nil, fmt.Errorf("yaml document must be a mapping or a sequence")
	}

	records := make([]Record, 0, len(items))
	for i, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("yaml record %d is not a mapping", i)
		}

		raw, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("encode yaml record %d: %w", i, err)
		}
		rawStr := string(raw)
		records = append(records, Record{Fields: fields, Raw: &rawStr})
	}
	return records, nil
}
