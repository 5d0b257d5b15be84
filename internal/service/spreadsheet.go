package service

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/iliyamo/camp-registration/internal/model"
)

// Roster is the parsed content of a registration spreadsheet.  PhotoNames
// holds, per participant, the file name given in the photo column ("" when
// empty).
type Roster struct {
	Participants []model.Person
	PhotoNames   []string
	Companions   []model.Person
}

// Spreadsheet column order, shared by both sheets.  The participant sheet
// has one extra trailing column for the photo file name.
const (
	colName = iota
	colBirthPlace
	colBirthDate
	colAddress
	colBloodType
	colEntryYear
	colPhone
	colGender
	colPhoto
)

var birthDateLayouts = []string{"2006-01-02", "02/01/2006", "2/1/2006", "02-01-2006", "01-02-06", "2006/01/02"}

// ParseRoster reads an XLSX workbook.  The first sheet lists participants
// and the optional second sheet companions; the first row of each is a
// header.  Rows with an empty name are skipped.
func ParseRoster(data []byte) (*Roster, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, Validation("spreadsheet is not a valid xlsx file")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, Validation("spreadsheet has no sheets")
	}

	roster := &Roster{}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read participants sheet: %w", err)
	}
	for i, row := range dataRows(rows) {
		p, err := parsePerson(row, i+2, sheets[0])
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		roster.Participants = append(roster.Participants, *p)
		roster.PhotoNames = append(roster.PhotoNames, cell(row, colPhoto))
	}

	if len(sheets) > 1 {
		rows, err := f.GetRows(sheets[1])
		if err != nil {
			return nil, fmt.Errorf("read companions sheet: %w", err)
		}
		for i, row := range dataRows(rows) {
			p, err := parsePerson(row, i+2, sheets[1])
			if err != nil {
				return nil, err
			}
			if p != nil {
				roster.Companions = append(roster.Companions, *p)
			}
		}
	}
	return roster, nil
}

func dataRows(rows [][]string) [][]string {
	if len(rows) <= 1 {
		return nil
	}
	return rows[1:]
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parsePerson(row []string, line int, sheet string) (*model.Person, error) {
	name := cell(row, colName)
	if name == "" {
		return nil, nil
	}
	p := &model.Person{
		Name:       name,
		BirthPlace: cell(row, colBirthPlace),
		Address:    cell(row, colAddress),
		BloodType:  strings.ToUpper(cell(row, colBloodType)),
		Phone:      cell(row, colPhone),
		Gender:     cell(row, colGender),
	}
	if raw := cell(row, colBirthDate); raw != "" {
		t, err := parseBirthDate(raw)
		if err != nil {
			return nil, Validation("%s row %d: invalid birth date %q", sheet, line, raw)
		}
		p.BirthDate = &t
	}
	if raw := cell(row, colEntryYear); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			return nil, Validation("%s row %d: invalid entry year %q", sheet, line, raw)
		}
		p.EntryYear = year
	}
	return p, nil
}

// parseBirthDate accepts the common text layouts and Excel date serials.
func parseBirthDate(raw string) (time.Time, error) {
	for _, layout := range birthDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, err
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}
