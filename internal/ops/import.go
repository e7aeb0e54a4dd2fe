package ops

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hpungsan/governor/internal/config"
	"github.com/hpungsan/governor/internal/db"
	"github.com/hpungsan/governor/internal/errors"
	"github.com/hpungsan/governor/internal/experiment"
)

// ImportMode controls collision behavior during import.
type ImportMode string

const (
	ImportModeError  ImportMode = "error"  // fail on any bad line or collision (atomic)
	ImportModeSkip   ImportMode = "skip"   // skip bad lines and existing session ids
	ImportModeRename ImportMode = "rename" // assign a fresh session id on collision
)

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string     // required
	Mode ImportMode // default: error
}

// ImportOutput contains the result of the Import operation.
type ImportOutput struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
}

// ImportError describes one rejected line.
type ImportError struct {
	Line      int    `json:"line"`
	SessionID string `json:"session_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

type importRecord struct {
	line   int
	sample experiment.Sample
}

// Import loads sessions from a JSONL export file.
func Import(database *sql.DB, cfg *config.Config, input ImportInput) (*ImportOutput, error) {
	if input.Path == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}
	if input.Mode == "" {
		input.Mode = ImportModeError
	}
	switch input.Mode {
	case ImportModeError, ImportModeSkip, ImportModeRename:
	default:
		return nil, errors.NewInvalidRequest("mode must be one of: error, skip, rename")
	}
	if err := ValidatePath(input.Path, PathCheckRead, cfg); err != nil {
		return nil, err
	}

	file, err := openNoFollow(input.Path)
	if err != nil {
		if _, ok := err.(*errors.GovernorError); ok {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	records, parseErrors := parseExportFile(file)

	if input.Mode == ImportModeError {
		if len(parseErrors) > 0 {
			return &ImportOutput{Errors: parseErrors}, nil
		}
		return importAtomic(database, records)
	}
	return importLenient(database, records, parseErrors, input.Mode)
}

// parseExportFile decodes every session line, skipping the header.
func parseExportFile(r io.Reader) ([]importRecord, []ImportError) {
	var (
		records []importRecord
		errs    []ImportError
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	now := time.Now().UTC()
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var header ExportHeader
		if err := json.Unmarshal(line, &header); err == nil && header.GovernorExport {
			continue
		}

		var s experiment.Sample
		if err := json.Unmarshal(line, &s); err != nil {
			errs = append(errs, ImportError{Line: lineNum, Code: "PARSE_ERROR", Message: fmt.Sprintf("invalid JSON: %v", err)})
			continue
		}
		if msg := validateImported(&s); msg != "" {
			errs = append(errs, ImportError{Line: lineNum, SessionID: s.SessionID, Code: "INVALID_RECORD", Message: msg})
			continue
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		s.Normalize()
		records = append(records, importRecord{line: lineNum, sample: s})
	}

	if err := scanner.Err(); err != nil {
		errs = append(errs, ImportError{Line: lineNum, Code: "READ_ERROR", Message: fmt.Sprintf("failed to read file: %v", err)})
	}
	return records, errs
}

func validateImported(s *experiment.Sample) string {
	switch {
	case s.SessionID == "":
		return "missing session_id field"
	case s.ExperimentID == "":
		return "missing experiment_id field"
	}
	v, err := experiment.ParseVariant(string(s.Variant))
	if err != nil {
		return fmt.Sprintf("unknown variant %q", s.Variant)
	}
	s.Variant = v
	return ""
}

// importAtomic inserts all records in one transaction and rolls back on the
// first collision.
func importAtomic(database *sql.DB, records []importRecord) (*ImportOutput, error) {
	tx, err := database.Begin()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, rec := range records {
		if err := db.InsertSession(tx, &rec.sample, ""); err != nil {
			if errors.Is(err, errors.ErrInvalidRequest) {
				return &ImportOutput{Errors: []ImportError{{
					Line:      rec.line,
					SessionID: rec.sample.SessionID,
					Code:      "ID_COLLISION",
					Message:   fmt.Sprintf("session %q already exists", rec.sample.SessionID),
				}}}, nil
			}
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return &ImportOutput{Imported: len(records), Errors: []ImportError{}}, nil
}

func importLenient(database *sql.DB, records []importRecord, parseErrors []ImportError, mode ImportMode) (*ImportOutput, error) {
	out := &ImportOutput{Skipped: len(parseErrors), Errors: append([]ImportError{}, parseErrors...)}

	for _, rec := range records {
		s := rec.sample
		err := db.InsertSession(database, &s, "")
		if err != nil && errors.Is(err, errors.ErrInvalidRequest) && mode == ImportModeRename {
			s.SessionID = uuid.NewString()
			err = db.InsertSession(database, &s, "")
		}
		switch {
		case err == nil:
			out.Imported++
		case errors.Is(err, errors.ErrInvalidRequest):
			out.Skipped++
			out.Errors = append(out.Errors, ImportError{
				Line:      rec.line,
				SessionID: rec.sample.SessionID,
				Code:      "ID_COLLISION",
				Message:   fmt.Sprintf("session %q already exists", rec.sample.SessionID),
			})
		default:
			return nil, err
		}
	}
	return out, nil
}
