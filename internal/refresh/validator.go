package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/withObsrvr/obsrvr-geotime/internal/iprange"
	"github.com/withObsrvr/obsrvr-geotime/internal/metadata"
	"github.com/withObsrvr/obsrvr-geotime/internal/metrics"
	"github.com/withObsrvr/obsrvr-geotime/internal/tables"
)

// ErrRangeViolation is returned in strict mode when a source table breaks
// the sorted, non-overlapping range contract.
var ErrRangeViolation = errors.New("range validation failed")

// maxReportedErrors caps how many violation messages a result keeps.
const maxReportedErrors = 20

// ValidationResult contains the outcome of validating one source table.
type ValidationResult struct {
	Table      string
	Passed     bool
	Errors     []string
	RowCount   int64
	Violations int64
}

// tableValidator checks records as they stream in. Networks must be sorted
// and non-overlapping; locations must carry their key.
type tableValidator struct {
	strict bool
	seq    iprange.Sequence
	result ValidationResult
}

func newTableValidator(table string, strict bool) *tableValidator {
	return &tableValidator{
		strict: strict,
		result: ValidationResult{Table: table, Passed: true},
	}
}

// CheckNetwork validates the next network in source order. It returns an
// error only in strict mode.
func (v *tableValidator) CheckNetwork(rec tables.NetworkRecord) error {
	v.result.RowCount++
	if err := v.seq.Add(rec.Network); err != nil {
		return v.violation(err)
	}
	return nil
}

// CheckLocation records a location row that failed to map. It returns an
// error only in strict mode.
func (v *tableValidator) CheckLocation(mapErr error) error {
	v.result.RowCount++
	if mapErr != nil {
		return v.violation(mapErr)
	}
	return nil
}

func (v *tableValidator) violation(err error) error {
	v.result.Passed = false
	v.result.Violations++
	if len(v.result.Errors) < maxReportedErrors {
		v.result.Errors = append(v.result.Errors, err.Error())
	}
	if m := metrics.Get(); m != nil {
		m.IncRangeViolations(metrics.Labels{Table: v.result.Table})
	}
	if v.strict {
		return fmt.Errorf("%w: %s: %v", ErrRangeViolation, v.result.Table, err)
	}
	return nil
}

// Result returns the validation outcome so far.
func (v *tableValidator) Result() ValidationResult {
	return v.result
}

// RecordQualityResult records the validation result to the metadata catalog.
func RecordQualityResult(ctx context.Context, meta metadata.Writer, runID string, result ValidationResult) error {
	errorMsg := ""
	if !result.Passed {
		errorMsg = strings.Join(result.Errors, "; ")
		if result.Violations > int64(len(result.Errors)) {
			errorMsg += fmt.Sprintf("; and %d more", result.Violations-int64(len(result.Errors)))
		}
	}

	return meta.RecordQuality(ctx, metadata.QualityRecord{
		RunID:        runID,
		Table:        result.Table,
		RowsChecked:  result.RowCount,
		Violations:   result.Violations,
		Passed:       result.Passed,
		ErrorMessage: errorMsg,
	})
}
