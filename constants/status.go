package constants

// ItemStatus is the lifecycle state of an uploaded file item.
type ItemStatus string

const (
	ItemRasterizing ItemStatus = "rasterizing" // pre-processing (PDF inspection), not dispatchable yet
	ItemPending     ItemStatus = "pending"
	ItemProcessing  ItemStatus = "processing" // owned by a scan worker
	ItemSuccess     ItemStatus = "success"
	ItemFailed      ItemStatus = "failed"
)

// Dispatchable reports whether a scan run may pick up an item in this state.
func (s ItemStatus) Dispatchable() bool {
	return s == ItemPending || s == ItemFailed
}

// Terminal reports whether the state is final until the user re-triggers a scan.
func (s ItemStatus) Terminal() bool {
	return s == ItemSuccess || s == ItemFailed
}

// SolutionStatus is the state of a solution record.
type SolutionStatus string

const (
	SolutionProcessing SolutionStatus = "processing"
	SolutionSuccess    SolutionStatus = "success"
	SolutionFailed     SolutionStatus = "failed"
)

func (s SolutionStatus) Terminal() bool {
	return s == SolutionSuccess || s == SolutionFailed
}

// ItemSource is the provenance tag of a file item.
type ItemSource string

const (
	SourceUpload ItemSource = "upload"
	SourceCamera ItemSource = "camera"
	SourceWatch  ItemSource = "watch" // picked up by the directory watcher
)
