// Package loader patches the code of a program as it is being loaded.
//
// PatchCode runs two passes over the code buffer. The first applies
// every record in the patch store that targets the program. The second
// applies the built-in rules (see package rules) that target the
// program and its version.
//
// Problems with the patch store are logged and reported, but they are
// never fatal: a missing or damaged store only means that there are
// fewer patches to apply. The only failure is a critical rule that
// cannot find its pattern, which is returned as an error wrapping
// ErrPatternAbsent so that the caller can refuse to run the program.
package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"log"

	"gitlab.com/reiloader/codepatch/patch"
	"gitlab.com/reiloader/codepatch/patchdb"
	"gitlab.com/reiloader/codepatch/rules"
)

var (
	ErrStoreUnavailable = errors.New("patch store is unavailable")
	ErrPatternAbsent    = rules.ErrPatternAbsent
)

// Config configures a Loader.
type Config struct {
	// Store is the file system containing the patch store.
	// The store pass is skipped if Store is nil.
	Store fs.FS

	// StorePath is the path of the patch store within Store.
	// It defaults to patchdb.DefaultPath.
	StorePath string

	// Rules is the table of built-in rules. The embedded default
	// table is used if it contains no rules and NoRules is false.
	Rules rules.Table

	// NoRules disables the built-in rules. Only the patch store
	// is applied.
	NoRules bool

	// Unchecked clips out-of-range writes to the code buffer
	// rather than failing the patch.
	Unchecked bool

	// Silent skips rules that only change what the user sees.
	Silent bool

	// OptLogger logs the progress of each pass if specified.
	OptLogger *log.Logger

	// OptOnWrite is called after each write to the code buffer
	// if specified.
	OptOnWrite func(patch.Write)
}

// Program describes the program being loaded.
type Program struct {
	ID      uint64
	Version uint16

	// TextSize is the size of the program's text section, which
	// starts at the beginning of the code buffer.
	TextSize uint32
}

func (o Program) String() string {
	return fmt.Sprintf("program 0x%016x v%d", o.ID, o.Version)
}

// Report summarizes a call to PatchCode.
type Report struct {
	// RecordsRead is the number of records decoded from the store.
	RecordsRead int

	// RecordsMatched is the number of records that target the program.
	RecordsMatched int

	// StoreApplied is the number of occurrences patched by records.
	StoreApplied int

	// StoreErr is set when the store could not be opened or read
	// to the end. It wraps ErrStoreUnavailable or
	// patchdb.ErrReadTruncated.
	StoreErr error

	// RulesApplied lists the rules that made at least one change.
	RulesApplied []rules.Result

	// RulesSkipped lists the names of rules that target the program
	// but were not applied because of its version or silent mode.
	RulesSkipped []string
}

// NewOrExit calls New. It calls DefaultExitFn if an error occurs.
func NewOrExit(config Config) *Loader {
	l, err := New(config)
	if err != nil {
		DefaultExitFn(fmt.Errorf("loader: failed to create loader - %w", err))
	}

	return l
}

// New creates a new Loader.
func New(config Config) (*Loader, error) {
	if config.StorePath == "" {
		config.StorePath = patchdb.DefaultPath
	}

	switch {
	case config.NoRules:
		config.Rules = rules.Table{}
	case len(config.Rules.Rules) == 0:
		table, err := rules.Default()
		if err != nil {
			return nil, fmt.Errorf("failed to load default rules - %w", err)
		}

		config.Rules = table
	default:
		err := config.Rules.Validate()
		if err != nil {
			return nil, err
		}
	}

	return &Loader{
		config: config,
		patcher: &patch.Patcher{
			Unchecked: config.Unchecked,
			OptLogger: config.OptLogger,
			OptHook:   config.OptOnWrite,
		},
	}, nil
}

// Loader applies the patch store and the built-in rules to code
// buffers. A Loader keeps no state between calls to PatchCode.
type Loader struct {
	config  Config
	patcher *patch.Patcher
}

// PatchCodeOrExit calls PatchCode. It calls DefaultExitFn if an
// error occurs.
func (o *Loader) PatchCodeOrExit(program Program, code []byte) Report {
	report, err := o.PatchCode(program, code)
	if err != nil {
		DefaultExitFn(fmt.Errorf("loader: failed to patch %s - %w", program, err))
	}

	return report
}

// PatchCode patches code in place for the given program.
//
// An error is only returned when a critical rule fails. Changes made
// before the failure are kept.
func (o *Loader) PatchCode(program Program, code []byte) (Report, error) {
	var report Report

	if o.config.Store != nil {
		err := o.applyStore(program, code, &report)
		if err != nil {
			report.StoreErr = err
			o.logf("store: %s", err)
		}
	}

	o.logf("store: %d records read, %d for %s, %d occurrences patched",
		report.RecordsRead, report.RecordsMatched, program, report.StoreApplied)

	err := o.applyRules(program, code, &report)
	if err != nil {
		return report, err
	}

	return report, nil
}

func (o *Loader) applyStore(program Program, code []byte, report *Report) error {
	f, err := o.config.Store.Open(o.config.StorePath)
	if err != nil {
		return fmt.Errorf("%w - %w", ErrStoreUnavailable, err)
	}
	defer f.Close()

	_, err = f.Stat()
	if err != nil {
		return fmt.Errorf("%w - failed to stat %q - %w", ErrStoreUnavailable, o.config.StorePath, err)
	}

	reader := patchdb.NewReader(f)

	for reader.Next() {
		record := reader.Record()
		if record.ProgramID != program.ID {
			continue
		}

		report.RecordsMatched++

		if len(record.Pattern) == 0 {
			o.logf("store: skipping record %d - pattern is empty", reader.NumRead()-1)
			continue
		}

		n, err := o.patcher.Apply(code, record.Pattern, int(record.Offset), record.Replacement, int(record.Count))
		report.StoreApplied += n
		if err != nil {
			o.logf("store: record %d (%s) failed after %d occurrences - %s",
				reader.NumRead()-1, record, n, err)
		}
	}

	report.RecordsRead = reader.NumRead()

	return reader.Err()
}

func (o *Loader) applyRules(program Program, code []byte, report *Report) error {
	selection := o.config.Rules.Select(program.ID, program.Version)

	for _, rule := range selection.Gated {
		o.logf("rules: skipping %q - %s is too old", rule.Name, program)
		report.RulesSkipped = append(report.RulesSkipped, rule.Name)
	}

	for _, rule := range selection.Apply {
		if rule.Cosmetic && o.config.Silent {
			o.logf("rules: skipping cosmetic rule %q", rule.Name)
			report.RulesSkipped = append(report.RulesSkipped, rule.Name)
			continue
		}

		result, err := rule.Apply(code, int(program.TextSize), o.patcher)
		if err != nil {
			if rule.Critical || errors.Is(err, ErrPatternAbsent) {
				return fmt.Errorf("rule %q failed for %s - %w", rule.Name, program, err)
			}

			o.logf("rules: %q failed - %s", rule.Name, err)
		}

		if result.Applied == 0 {
			o.logf("rules: %q found nothing to patch", rule.Name)
			continue
		}

		o.logf("rules: %q patched %d locations", rule.Name, result.Applied)

		report.RulesApplied = append(report.RulesApplied, result)
	}

	return nil
}

func (o *Loader) logf(format string, args ...interface{}) {
	if o.config.OptLogger != nil {
		o.config.OptLogger.Printf(format, args...)
	}
}
