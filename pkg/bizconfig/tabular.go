package bizconfig

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

// Header aliases accepted in GL mapping sheets, matched case-insensitively after trimming.
var (
	accountHeaders     = []string{"g/l account", "gl account", "gl_account", "account", "account_number", "gl account number"}
	descriptionHeaders = []string{"g/l acct long text", "gl acct long text", "description", "gl description", "account description"}
	bucketIDHeaders    = []string{"cm_ss_glaccount_bucket_id", "bucket_id", "bucket id", "bucket", "bucket code"}
	bucketNameHeaders  = []string{"cm_ss_glaccount_bucket_desc", "bucket_name", "bucket name", "bucket description", "bucket_desc"}
)

const bom = "\uFEFF"

// normalizeCode trims a cell and drops the ".0" spreadsheets append to numeric codes.
func normalizeCode(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(s, bom))
	if strings.HasSuffix(s, ".0") && isDigits(strings.TrimSuffix(s, ".0")) {
		return strings.TrimSuffix(s, ".0")
	}
	return s
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func headerIndex(header []string, aliases []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, bom)))
		for _, a := range aliases {
			if h == a {
				return i
			}
		}
	}
	return -1
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// ParseGLMappingRows converts sheet rows (header first) into mappings.
// Rows without an account number or bucket id are skipped.
func ParseGLMappingRows(rows [][]string) (map[string]*models.GLAccountMapping, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("GL mapping sheet is empty")
	}
	header := rows[0]
	acctIdx := headerIndex(header, accountHeaders)
	bucketIdx := headerIndex(header, bucketIDHeaders)
	if acctIdx < 0 || bucketIdx < 0 {
		return nil, fmt.Errorf("GL mapping sheet is missing account or bucket columns (header: %v)", header)
	}
	descIdx := headerIndex(header, descriptionHeaders)
	nameIdx := headerIndex(header, bucketNameHeaders)

	out := make(map[string]*models.GLAccountMapping, len(rows)-1)
	for _, row := range rows[1:] {
		acct := normalizeCode(cell(row, acctIdx))
		bucket := strings.TrimSpace(cell(row, bucketIdx))
		if acct == "" || bucket == "" {
			continue
		}
		acctType, balance := models.InferAccountType(bucket)
		out[acct] = &models.GLAccountMapping{
			AccountNumber: acct,
			Description:   strings.TrimSpace(cell(row, descIdx)),
			BucketID:      bucket,
			BucketName:    strings.TrimSpace(cell(row, nameIdx)),
			AccountType:   acctType,
			NormalBalance: balance,
			IsActive:      true,
		}
	}
	return out, nil
}

// ReadGLMappingCSV parses a CSV GL mapping sheet.
func ReadGLMappingCSV(r io.Reader) (map[string]*models.GLAccountMapping, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read GL mapping CSV: %w", err)
	}
	return ParseGLMappingRows(rows)
}

// LoadGLMappingFile reads a GL mapping sheet from a .csv or .xlsx file.
// For workbooks the first sheet is used.
func LoadGLMappingFile(path string) (map[string]*models.GLAccountMapping, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open GL mapping %s: %w", path, err)
		}
		defer f.Close()
		return ReadGLMappingCSV(f)
	case ".xlsx", ".xlsm":
		wb, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open GL mapping %s: %w", path, err)
		}
		defer wb.Close()
		rows, err := wb.GetRows(wb.GetSheetName(0))
		if err != nil {
			return nil, fmt.Errorf("failed to read GL mapping %s: %w", path, err)
		}
		return ParseGLMappingRows(rows)
	default:
		return nil, fmt.Errorf("unsupported GL mapping format %q", filepath.Ext(path))
	}
}

// LoadMaterialHierarchyFile reads sheets mg1..mg5 (any case) from a workbook.
// Each sheet holds code in the first column and description in the second; a
// header row is tolerated. Missing sheets leave the level empty.
func LoadMaterialHierarchyFile(path string) (*models.MaterialGroupHierarchy, error) {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open material hierarchy %s: %w", path, err)
	}
	defer wb.Close()

	h := models.NewMaterialGroupHierarchy()
	for _, sheet := range wb.GetSheetList() {
		name := strings.ToLower(strings.TrimSpace(sheet))
		if len(name) != 3 || !strings.HasPrefix(name, "mg") || name[2] < '1' || name[2] > '5' {
			continue
		}
		level := h.Level(int(name[2] - '0'))
		rows, err := wb.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		for _, row := range rows {
			code := normalizeCode(cell(row, 0))
			if code == "" || strings.EqualFold(code, "code") {
				continue
			}
			level[code] = strings.TrimSpace(cell(row, 1))
		}
	}
	return h, nil
}
