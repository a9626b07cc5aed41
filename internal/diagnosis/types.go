package diagnosis

import "github.com/agrodiag/agrodiag/internal/channel"

// ResultKind tags the three engine outcome categories.
type ResultKind string

const (
	// KindNeedsBetterImage: the photo was inconclusive; the user should retry
	// with a clearer shot without restarting the flow.
	KindNeedsBetterImage ResultKind = "needs_better_image"
	// KindFailure: the engine failed; Message carries its already-localized
	// human-readable error, relayed verbatim.
	KindFailure ResultKind = "failure"
	// KindSuccess: a report was produced.
	KindSuccess ResultKind = "success"
)

// Input is the complete bundle handed to the engine.
type Input struct {
	AccountID string
	CropName  string
	Notes     string
	Image     []byte
	MimeType  string
	Provider  channel.Provider
}

// Result is the engine outcome mapped onto user-facing reply material.
type Result struct {
	Kind             ResultKind
	Message          string
	ReportMarkdown   string
	Confidence       float64
	RemainingCredits int
	ResultImageURL   string
}
