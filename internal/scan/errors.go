package scan

import (
	"errors"

	"github.com/joseph-ayodele/homework-scanner/internal/common"
)

// Preconditions checked before a run, in this order. Compare with errors.Is;
// the returned values carry a message naming the offending source.
var (
	ErrNoSource      = common.NewAppError(common.CodeNoSource, "no AI source is enabled with an API key", nil)
	ErrNoModel       = common.NewAppError(common.CodeNoModel, "an enabled AI source has no model", nil)
	ErrPDFBlocked    = common.NewAppError(common.CodePDFBlocked, "a queued PDF needs a PDF-capable source", nil)
	ErrNothingToDo   = common.NewAppError(common.CodeNothingToDo, "there are no pending or failed items to scan", nil)
	ErrRunInProgress = common.NewAppError(common.CodeBusy, "a scan is already running", nil)
)

// ErrUnparseable marks a response that was neither valid JSON nor XML in the expected shape.
var ErrUnparseable = errors.New("scan: response could not be parsed")

// Failure record text shown on an item's card when every source failed.
const (
	FailureProblem = "Processing failed after multiple retries."
	FailureAnswer  = "Please check the logs for errors and try again."
)
