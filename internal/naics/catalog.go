package naics

import (
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// AllSectors is the catch-all industry code.
const AllSectors = "00"

//go:embed industry_id_list.csv
var defaultList string

var ErrMalformedCatalog = errors.New("malformed industry catalog")

// Industry is one validated entry of the industry code list.
type Industry struct {
	Code        string
	Description string
	Level       int
}

// Catalog is the ordered industry list a run iterates over.
type Catalog []Industry

// NormalizeCode zero-pads a raw code to at least two digits, so "0" becomes "00".
func NormalizeCode(raw string) string {
	code := strings.TrimSpace(raw)
	if len(code) < 2 {
		return strings.Repeat("0", 2-len(code)) + code
	}
	return code
}

// LoadDefault parses the list bundled with the binary.
func LoadDefault() (Catalog, error) {
	return Parse(strings.NewReader(defaultList))
}

// LoadFile parses an industry list from disk. An empty path means the bundled list.
func LoadFile(path string) (Catalog, error) {
	if path == "" {
		return LoadDefault()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open industry list: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a CSV with relevant_naics and industry_detail columns. Codes may be written
// as integers or floats ("11.0"), the way spreadsheet exports produce them.
func Parse(r io.Reader) (Catalog, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrMalformedCatalog, err)
	}
	codeIdx, detailIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))) {
		case "relevant_naics":
			codeIdx = i
		case "industry_detail":
			detailIdx = i
		}
	}
	if codeIdx < 0 || detailIdx < 0 {
		return nil, fmt.Errorf("%w: need relevant_naics and industry_detail columns", ErrMalformedCatalog)
	}

	var out Catalog
	seen := make(map[string]bool)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedCatalog, line, err)
		}
		if codeIdx >= len(record) || detailIdx >= len(record) {
			return nil, fmt.Errorf("%w: line %d: short record", ErrMalformedCatalog, line)
		}

		code, err := parseCode(record[codeIdx])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedCatalog, line, err)
		}
		if seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, Industry{
			Code:        code,
			Description: strings.TrimSpace(record[detailIdx]),
			Level:       len(code),
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no industries", ErrMalformedCatalog)
	}
	return out, nil
}

func parseCode(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty code")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 || f != float64(int64(f)) {
		return "", fmt.Errorf("code %q is not a non-negative integer", raw)
	}
	return NormalizeCode(strconv.FormatInt(int64(f), 10)), nil
}

// WithLevels keeps the industries whose code length is one of levels, in list order.
func (c Catalog) WithLevels(levels []int) Catalog {
	want := make(map[int]bool, len(levels))
	for _, l := range levels {
		want[l] = true
	}
	var out Catalog
	for _, ind := range c {
		if want[ind.Level] {
			out = append(out, ind)
		}
	}
	return out
}
