package market

import "fmt"

// DataError signals malformed or discontinuous candle input. Detection skips
// the affected window, logs, and continues; it never aborts the pipeline.
type DataError struct {
	Symbol    string
	Timeframe Timeframe
	Reason    string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error for %s/%s: %s", e.Symbol, e.Timeframe, e.Reason)
}

// CollaboratorError signals an external collaborator (data or execution
// provider) being unreachable. Repeated occurrences escalate to an
// emergency stop at the controller.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator %s unavailable: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}
