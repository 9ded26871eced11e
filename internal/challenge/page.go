// Package challenge detects and resolves reCAPTCHA challenges on loaded pages.
package challenge

import (
	"context"
	"time"
)

// Page is the view of a loaded page that detection and resolution need.
// Waits return false, not an error, when their bound elapses.
type Page interface {
	URL() string

	// WaitChallengeFrame waits for a visible challenge anchor iframe.
	WaitChallengeFrame(ctx context.Context, timeout time.Duration) (bool, error)
	// WaitVendorGlobal waits for the vendor script object to be defined.
	WaitVendorGlobal(ctx context.Context, timeout time.Duration) (bool, error)
	// Markers runs a synchronous DOM query for challenge traces.
	Markers(ctx context.Context) (Markers, error)

	SiteKey(ctx context.Context) (string, error)
	ResponseToken(ctx context.Context) (string, error)
	// InjectToken writes token into the hidden response field and fires
	// any registered page callback.
	InjectToken(ctx context.Context, token string) error

	ClickCheckbox(ctx context.Context) error
	CheckboxChecked(ctx context.Context) (bool, error)
	// ImageChallengeVisible reports whether the secondary image challenge frame is showing.
	ImageChallengeVisible(ctx context.Context) (bool, error)

	Extension() Extension
}

// Markers is the result of the synchronous DOM check.
type Markers struct {
	Container   bool `json:"container"`
	AnchorFrame bool `json:"anchorFrame"`
	ScriptTag   bool `json:"scriptTag"`
	AltVendor   bool `json:"altVendor"`
}

// Any reports whether any marker matched.
func (m Markers) Any() bool {
	return m.Container || m.AnchorFrame || m.ScriptTag || m.AltVendor
}

// Availability describes the state of the solver extension bridge.
type Availability int

const (
	// ExtensionMissing means the extension is not installed in this browser.
	ExtensionMissing Availability = iota
	// ExtensionNotYet means the extension is installed but its global is not defined yet.
	ExtensionNotYet
	// ExtensionReady means the bridge object is defined and callable.
	ExtensionReady
)

func (a Availability) String() string {
	switch a {
	case ExtensionReady:
		return "ready"
	case ExtensionNotYet:
		return "not_yet"
	default:
		return "missing"
	}
}

// ExtensionDetection is the subset of the extension's detect() result we use.
type ExtensionDetection struct {
	HasAny bool `json:"hasAny"`
}

// Extension is the co-installed solver extension's page API.
type Extension interface {
	Available(ctx context.Context) (Availability, error)
	Detect(ctx context.Context) (ExtensionDetection, error)
	Solve(ctx context.Context) (bool, error)
	IsSolved(ctx context.Context) (bool, error)
	SetConfig(ctx context.Context, cfg map[string]any) error
}

// MissingExtension is the Extension used when no extension was loaded.
type MissingExtension struct{}

func (MissingExtension) Available(context.Context) (Availability, error) {
	return ExtensionMissing, nil
}

func (MissingExtension) Detect(context.Context) (ExtensionDetection, error) {
	return ExtensionDetection{}, ErrExtensionUnavailable
}

func (MissingExtension) Solve(context.Context) (bool, error) {
	return false, ErrExtensionUnavailable
}

func (MissingExtension) IsSolved(context.Context) (bool, error) {
	return false, ErrExtensionUnavailable
}

func (MissingExtension) SetConfig(context.Context, map[string]any) error {
	return ErrExtensionUnavailable
}
