package releases

// State is what the release view currently shows.
type State string

const (
	Loading    State = "loading"
	FirstUse   State = "first_use"
	Errors     State = "errors"
	NoPageData State = "no_page_data"
	Loaded     State = "loaded"
)

// Classify evaluates the refresh checks in order: pool, runtime, release count.
func Classify(poolBound, started bool, count int) State {
	switch {
	case !poolBound:
		return FirstUse
	case !started:
		return Errors
	case count == 0:
		return NoPageData
	default:
		return Loaded
	}
}

// ActionViewCatalog switches to the catalog view.
const ActionViewCatalog = "view_catalog"

// Placeholder is the empty-page content shown instead of the release list.
type Placeholder struct {
	Type         State  `json:"type"`
	Title        string `json:"title"`
	Message      string `json:"message,omitempty"`
	CallToAction string `json:"action,omitempty"`
}

// Placeholder returns the empty-page content for s; Loaded has none.
func (s State) Placeholder() (Placeholder, bool) {
	p := Placeholder{Type: s}
	switch s {
	case Loading:
		p.Title = "Loading..."
	case FirstUse:
		p.Title = "Applications not configured"
	case NoPageData:
		p.Title = "No Applications Installed"
		p.Message = "Applications you install will automatically appear here. Click below and browse the catalog to get started."
	case Errors:
		p.Title = "Applications are not running"
	default:
		return Placeholder{}, false
	}
	if s.HasCallToAction() {
		p.CallToAction = ActionViewCatalog
	}
	return p, true
}

// HasCallToAction reports whether the placeholder offers switching to the catalog.
func (s State) HasCallToAction() bool {
	return s == Loading || s == FirstUse
}
