package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode"

	"rpg-portal/logger"
	"rpg-portal/models"

	"github.com/google/uuid"
	"github.com/gosimple/unidecode"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// ContactsHeader is the 13-column header of the Google Contacts CSV
// layout used for export.
var ContactsHeader = []string{
	"Name",
	"Given Name",
	"Family Name",
	"Nickname",
	"E-mail 1 - Type",
	"E-mail 1 - Value",
	"Phone 1 - Type",
	"Phone 1 - Value",
	"Address 1 - Type",
	"Address 1 - Street",
	"Address 1 - City",
	"Address 1 - Region",
	"Address 1 - Postal Code",
}

// Fields an administrator may leave out of an export.
const (
	ContactFieldPhone   = "phone"
	ContactFieldAddress = "address"
	ContactFieldDiscord = "discord"
)

type ExportOptions struct {
	Exclude []string `query:"exclude"`
}

func (o ExportOptions) excluded(field string) bool {
	for _, f := range o.Exclude {
		if strings.EqualFold(strings.TrimSpace(f), field) {
			return true
		}
	}
	return false
}

// ContactRow renders u in ContactsHeader order.
func ContactRow(u models.User, opts ExportOptions) []string {
	given, family := splitName(u.DisplayName)
	row := []string{u.DisplayName, given, family, "", "* Home", u.Email, "", "", "", "", "", "", ""}
	if !opts.excluded(ContactFieldDiscord) {
		row[3] = u.Discord
	}
	if !opts.excluded(ContactFieldPhone) && u.Phone != "" {
		row[6] = "Mobile"
		row[7] = u.Phone
	}
	if !opts.excluded(ContactFieldAddress) && u.Address != (models.Address{}) {
		street := u.Address.Street
		if u.Address.Number != "" {
			street = strings.TrimSpace(street + ", " + u.Address.Number)
		}
		row[8] = "Home"
		row[9] = street
		row[10] = u.Address.City
		row[11] = u.Address.State
		row[12] = u.Address.PostalCode
	}
	return row
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

type ContactService struct {
	DB *gorm.DB
}

func NewContactService(db *gorm.DB) *ContactService {
	return &ContactService{DB: db}
}

func (s *ContactService) users(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.DB.WithContext(ctx).Order("email ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return users, nil
}

// ExportCSV writes every user as a contacts CSV and returns the row count.
func (s *ContactService) ExportCSV(ctx context.Context, w io.Writer, opts ExportOptions) (int, error) {
	users, err := s.users(ctx)
	if err != nil {
		return 0, err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(ContactsHeader); err != nil {
		return 0, err
	}
	for _, u := range users {
		if err := cw.Write(ContactRow(u, opts)); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	return len(users), cw.Error()
}

// ExportXLSX writes the same rows as ExportCSV into a spreadsheet.
func (s *ContactService) ExportXLSX(ctx context.Context, w io.Writer, opts ExportOptions) (int, error) {
	users, err := s.users(ctx)
	if err != nil {
		return 0, err
	}
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Contatos"
	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), sheet); err != nil {
		return 0, err
	}
	write := func(rowIdx int, values []string) error {
		axis, err := excelize.CoordinatesToCellName(1, rowIdx)
		if err != nil {
			return err
		}
		cells := make([]interface{}, len(values))
		for i, v := range values {
			cells[i] = v
		}
		return f.SetSheetRow(sheet, axis, &cells)
	}
	if err := write(1, ContactsHeader); err != nil {
		return 0, err
	}
	for i, u := range users {
		if err := write(i+2, ContactRow(u, opts)); err != nil {
			return 0, err
		}
	}
	if err := f.Write(w); err != nil {
		return 0, fmt.Errorf("write xlsx: %w", err)
	}
	return len(users), nil
}

// ReadContactsCSV reads all records; rows may have differing widths.
func ReadContactsCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse CSV: %v", ErrValidation, err)
	}
	return rows, nil
}

// ReadContactsXLSX reads the first sheet of a workbook.
func ReadContactsXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open XLSX file: %v", ErrValidation, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: XLSX file has no sheets", ErrValidation)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

// ImportedContact is one usable row of an import.
type ImportedContact struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone"`
}

type ImportReport struct {
	Rows             int      `json:"rows"`
	Imported         int      `json:"imported"`
	SkippedInvalid   int      `json:"skipped_invalid"`
	SkippedDuplicate int      `json:"skipped_duplicate"`
	SkippedExisting  int      `json:"skipped_existing"`
	Emails           []string `json:"emails,omitempty"`
}

// columnKeys are matched against normalised headers.
var columnKeys = map[string][]string{
	"email":  {"email", "correio"},
	"phone":  {"phone", "telefone", "celular", "mobile", "whatsapp"},
	"name":   {"name", "nome"},
	"family": {"familyname", "lastname", "sobrenome"},
}

var ignoredHeaderParts = []string{"type", "tipo", "label"}

func normalizeHeader(h string) string {
	h = strings.ToLower(unidecode.Unidecode(strings.TrimSpace(h)))
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, h)
}

// locateColumn returns the index of the first header exactly equal to a
// key, else the first header containing one, or -1.
func locateColumn(headers []string, keys []string) int {
	for _, k := range keys {
		for i, h := range headers {
			if h == k {
				return i
			}
		}
	}
	for i, h := range headers {
		if skipHeader(h) {
			continue
		}
		for _, k := range keys {
			if strings.Contains(h, k) {
				return i
			}
		}
	}
	return -1
}

func skipHeader(h string) bool {
	for _, part := range ignoredHeaderParts {
		if strings.Contains(h, part) {
			return true
		}
	}
	return false
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// ExtractContacts finds the name, email and phone columns of rows (first
// row is the header) and returns the valid, batch-unique contacts.
func ExtractContacts(rows [][]string) ([]ImportedContact, ImportReport, error) {
	var report ImportReport
	if len(rows) == 0 {
		return nil, report, fmt.Errorf("%w: empty file", ErrValidation)
	}
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = normalizeHeader(h)
	}
	emailCol := locateColumn(headers, columnKeys["email"])
	if emailCol < 0 {
		return nil, report, fmt.Errorf("%w: no email column found", ErrValidation)
	}
	nameCol := locateColumn(headers, columnKeys["name"])
	familyCol := -1
	if nameCol >= 0 && headers[nameCol] != "name" && headers[nameCol] != "nome" {
		familyCol = locateColumn(headers, columnKeys["family"])
		if familyCol == nameCol {
			familyCol = -1
		}
	}
	phoneCol := locateColumn(headers, columnKeys["phone"])

	seen := make(map[string]bool)
	var out []ImportedContact
	for _, row := range rows[1:] {
		report.Rows++
		email := NormalizeEmail(cell(row, emailCol))
		if !IsValidEmail(email) {
			report.SkippedInvalid++
			continue
		}
		if seen[email] {
			report.SkippedDuplicate++
			continue
		}
		seen[email] = true

		name := cell(row, nameCol)
		if family := cell(row, familyCol); family != "" {
			name = strings.TrimSpace(name + " " + family)
		}
		out = append(out, ImportedContact{Email: email, DisplayName: name, Phone: cell(row, phoneCol)})
	}
	return out, report, nil
}

// Import creates a user (lowest plan) for every contact whose email is
// not stored yet.
func (s *ContactService) Import(ctx context.Context, rows [][]string) (ImportReport, error) {
	contacts, report, err := ExtractContacts(rows)
	if err != nil {
		return report, err
	}
	if len(contacts) == 0 {
		return report, nil
	}

	db := s.DB.WithContext(ctx)
	existing := make(map[string]bool)
	const chunk = 500
	for start := 0; start < len(contacts); start += chunk {
		end := start + chunk
		if end > len(contacts) {
			end = len(contacts)
		}
		emails := make([]string, 0, end-start)
		for _, c := range contacts[start:end] {
			emails = append(emails, c.Email)
		}
		var found []string
		if err := db.Model(&models.User{}).Where("LOWER(email) IN ?", emails).
			Pluck("LOWER(email)", &found).Error; err != nil {
			return report, fmt.Errorf("check existing: %w", err)
		}
		for _, e := range found {
			existing[e] = true
		}
	}

	var users []models.User
	for _, c := range contacts {
		if existing[c.Email] {
			report.SkippedExisting++
			continue
		}
		users = append(users, models.User{
			ID:           uuid.NewString(),
			Email:        c.Email,
			DisplayName:  c.DisplayName,
			Phone:        c.Phone,
			Plan:         LowestPlan(),
			Events:       models.EventLog{},
			Achievements: map[string]models.AchievementState{},
		})
		report.Emails = append(report.Emails, c.Email)
	}
	if len(users) > 0 {
		if err := db.CreateInBatches(users, 100).Error; err != nil {
			return report, fmt.Errorf("create imported users: %w", err)
		}
	}
	report.Imported = len(users)
	logger.Info().Int("rows", report.Rows).Int("imported", report.Imported).
		Int("invalid", report.SkippedInvalid).Int("duplicates", report.SkippedDuplicate).
		Int("existing", report.SkippedExisting).Msg("📇 Contacts imported")
	return report, nil
}
