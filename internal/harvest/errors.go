package harvest

import "fmt"

// Stage names the step of article processing that failed.
type Stage string

// Article processing stages.
const (
	StageNormalize Stage = "normalize"
	StagePlace     Stage = "place"
	StageFetch     Stage = "fetch"
	StageConvert   Stage = "convert"
	StageRewrite   Stage = "rewrite"
	StageRender    Stage = "render"
	StageWrite     Stage = "write"
)

// FatalEnumerationError aborts a run before any article is processed: the
// credential was rejected, the API stayed unreachable or a listing was malformed.
type FatalEnumerationError struct {
	Err   error
	Phase string
}

func (e *FatalEnumerationError) Error() string {
	return fmt.Sprintf("enumerating %s: %v", e.Phase, e.Err)
}

func (e *FatalEnumerationError) Unwrap() error {
	return e.Err
}

// PerArticleError records why one article was skipped. The run continues.
type PerArticleError struct {
	Err       error
	ArticleID string
	Title     string
	Stage     Stage
}

func (e *PerArticleError) Error() string {
	return fmt.Sprintf("article %s (%q) failed at %s: %v", e.ArticleID, e.Title, e.Stage, e.Err)
}

func (e *PerArticleError) Unwrap() error {
	return e.Err
}
