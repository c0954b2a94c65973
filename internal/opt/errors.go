package opt

import "errors"

var (
	// ErrDataInconsistency reports missing, empty or malformed input tables.
	ErrDataInconsistency = errors.New("data inconsistency")
	// ErrInfeasible reports that no allocation satisfies every constraint.
	ErrInfeasible = errors.New("infeasible")
	// ErrSolverFailure reports an abnormal termination of the solve.
	ErrSolverFailure = errors.New("solver failure")
)

// Status values returned by Classify.
const (
	StatusDataInconsistency = "data_inconsistency"
	StatusInfeasible        = "infeasible"
	StatusSolverFailure     = "solver_failure"
	StatusError             = "error"
	StatusOK                = "ok"
)

// Classify maps an error to a short status label.
func Classify(err error) string {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrDataInconsistency):
		return StatusDataInconsistency
	case errors.Is(err, ErrInfeasible):
		return StatusInfeasible
	case errors.Is(err, ErrSolverFailure):
		return StatusSolverFailure
	default:
		return StatusError
	}
}
