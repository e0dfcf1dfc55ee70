package parser

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// AccountingRecord is one parsed row from an MTA accounting file, one row per
// delivery attempt.
type AccountingRecord struct {
	Type       string    `json:"type"` // d=delivered, b=bounced, f=FBL, rb=remote-bounce
	TimeLogged time.Time `json:"time_logged"`
	Orig       string    `json:"orig"` // envelope sender
	Rcpt       string    `json:"rcpt"` // envelope recipient
	Domain     string    `json:"domain"`
	DSNStatus  string    `json:"dsn_status"`
	DSNDiag    string    `json:"dsn_diag"`
	BounceCat  string    `json:"bounce_cat"`
}

// DomainCounts aggregates delivery outcomes per recipient domain. Accounting
// data feeds the reputation scorer only; it never suppresses by itself.
type DomainCounts struct {
	Domain     string `json:"domain"`
	Sent       int64  `json:"sent"`
	Delivered  int64  `json:"delivered"`
	Bounced    int64  `json:"bounced"`
	Complained int64  `json:"complained"`
}

// AccountingParser reads MTA accounting CSV files. The MTA writes an optional
// header comment line:
//
//	#type,timeLogged,orig,rcpt,dsnAction,dsnStatus,dsnDiag,bounceCat,...
//
// When present, fields are resolved by name; otherwise positional layout is
// assumed.
type AccountingParser struct {
	headerMap map[string]int // column name -> index
}

// NewAccountingParser returns a parser. Call ParseFile or ParseReader.
func NewAccountingParser() *AccountingParser {
	return &AccountingParser{}
}

// ParseFile reads an accounting CSV from disk.
func (p *AccountingParser) ParseFile(path string) ([]AccountingRecord, Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Result{}, fmt.Errorf("cannot open accounting file %s: %w", path, err)
	}
	defer f.Close()
	return p.ParseReader(f)
}

// ParseReader reads accounting records from any io.Reader. One bad row is
// counted and skipped, never fatal.
func (p *AccountingParser) ParseReader(r io.Reader) ([]AccountingRecord, Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var records []AccountingRecord
	var res Result
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if strings.HasPrefix(line, "#") {
			if strings.HasPrefix(line, "#type,") {
				p.parseHeader(line[1:]) // strip leading #
			}
			continue
		}

		if strings.TrimSpace(line) == "" {
			continue
		}

		res.Processed++
		rec, err := p.parseLine(line)
		if err != nil {
			res.Skipped++
			res.Errors = append(res.Errors, RowError{Line: lineNum, Raw: line, Err: err.Error()})
			continue
		}
		res.Added++
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return records, res, fmt.Errorf("error reading accounting data: %w", err)
	}

	return records, res, nil
}

func (p *AccountingParser) parseHeader(line string) {
	fields := strings.Split(line, ",")
	p.headerMap = make(map[string]int, len(fields))
	for i, f := range fields {
		p.headerMap[strings.TrimSpace(f)] = i
	}
}

func (p *AccountingParser) field(fields []string, name string) string {
	if p.headerMap == nil {
		return ""
	}
	idx, ok := p.headerMap[name]
	if !ok || idx >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[idx])
}

func (p *AccountingParser) parseLine(line string) (AccountingRecord, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 4 {
		return AccountingRecord{}, fmt.Errorf("too few fields: %d", len(fields))
	}

	if p.headerMap != nil {
		return p.parseNamed(fields)
	}
	return p.parsePositional(fields)
}

func (p *AccountingParser) parseNamed(fields []string) (AccountingRecord, error) {
	ts, err := time.Parse("2006-01-02 15:04:05", p.field(fields, "timeLogged"))
	if err != nil {
		ts = time.Now().UTC()
	}

	rcpt := strings.ToLower(p.field(fields, "rcpt"))
	return AccountingRecord{
		Type:       p.field(fields, "type"),
		TimeLogged: ts,
		Orig:       p.field(fields, "orig"),
		Rcpt:       rcpt,
		Domain:     DomainOf(rcpt),
		DSNStatus:  p.field(fields, "dsnStatus"),
		DSNDiag:    p.field(fields, "dsnDiag"),
		BounceCat:  p.field(fields, "bounceCat"),
	}, nil
}

func (p *AccountingParser) parsePositional(fields []string) (AccountingRecord, error) {
	ts, err := time.Parse("2006-01-02 15:04:05", fields[1])
	if err != nil {
		ts = time.Now().UTC()
	}

	rcpt := ""
	if len(fields) > 3 {
		rcpt = strings.ToLower(strings.TrimSpace(fields[3]))
	}

	rec := AccountingRecord{
		Type:       strings.TrimSpace(fields[0]),
		TimeLogged: ts,
		Rcpt:       rcpt,
		Domain:     DomainOf(rcpt),
	}
	if len(fields) > 2 {
		rec.Orig = strings.TrimSpace(fields[2])
	}
	return rec, nil
}

// AggregateByDomain groups accounting records by recipient domain and counts
// delivery outcomes. Every attempt with a terminal outcome counts as sent.
func AggregateByDomain(records []AccountingRecord) map[string]*DomainCounts {
	byDomain := make(map[string]*DomainCounts)

	for _, r := range records {
		d := r.Domain
		if d == "" {
			continue
		}

		dc, ok := byDomain[d]
		if !ok {
			dc = &DomainCounts{Domain: d}
			byDomain[d] = dc
		}

		switch r.Type {
		case "d":
			dc.Delivered++
			dc.Sent++
		case "b", "rb":
			dc.Bounced++
			dc.Sent++
		case "f":
			dc.Complained++
		}
	}

	return byDomain
}
