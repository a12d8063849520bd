package tenderlens

import "errors"

var (
	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("tenderlens: document not found")

	// ErrRunInProgress is returned when a processing run is already active
	// for the same document.
	ErrRunInProgress = errors.New("tenderlens: processing run already in progress")

	// ErrConflict is returned when concurrent runs race for the same
	// document's working directory.
	ErrConflict = errors.New("tenderlens: concurrent run conflict")

	// ErrSourceUnreadable is returned for corrupt or unreadable source
	// documents. Not retryable.
	ErrSourceUnreadable = errors.New("tenderlens: source document unreadable")

	// ErrUnsupportedFormat is returned for unrecognized document formats.
	ErrUnsupportedFormat = errors.New("tenderlens: unsupported document format")

	// ErrNoHeadingsFound is returned when outline extraction finds no
	// headings and the single-section fallback is disabled.
	ErrNoHeadingsFound = errors.New("tenderlens: no headings found in document")

	// ErrEmptyOutline is returned when the splitter is given an outline
	// with zero entries.
	ErrEmptyOutline = errors.New("tenderlens: outline is empty")

	// ErrSplitWrite is returned when a split section cannot be persisted.
	ErrSplitWrite = errors.New("tenderlens: writing split section failed")

	// ErrInferenceUnavailable is returned when the multimodal inference
	// collaborator is unreachable. Stages degrade instead of failing.
	ErrInferenceUnavailable = errors.New("tenderlens: multimodal inference unavailable")

	// ErrResourceBusy is returned when the native-automation bridge rejects
	// a call after bounded retries.
	ErrResourceBusy = errors.New("tenderlens: automation resource busy")

	// ErrRunCancelled is returned as the recorded failure of a run that
	// was cancelled before completing.
	ErrRunCancelled = errors.New("tenderlens: run cancelled")

	// ErrRunNotFound is returned when no processing record exists for a
	// document.
	ErrRunNotFound = errors.New("tenderlens: processing run not found")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("tenderlens: store is closed")

	// ErrDescriptorNotFound is returned when no tender project descriptor
	// exists for the requested analysis ID.
	ErrDescriptorNotFound = errors.New("tenderlens: project descriptor not found")
)
