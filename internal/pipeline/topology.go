// Package pipeline holds the orchestration core: the queue topology, the
// generic stage executor, and the advance/terminal/failure contract each
// stage implements.
package pipeline

import "fmt"

// Pipeline steps. A step number names the stage whose work is still
// pending: 1 extract, 2 translate, 3 render.
const (
	StepExtract   = 1
	StepTranslate = 2
	StepRender    = 3
)

// One durable stream per stage transition. StreamForStep(n) is the input
// of step n's stage.
const (
	StreamIngestToExtract    = "pipeline:ingest-to-extract"
	StreamExtractToTranslate = "pipeline:extract-to-translate"
	StreamTranslateToRender  = "pipeline:translate-to-render"
)

// StreamForStep maps a pending step to the stream its stage consumes.
func StreamForStep(step int) (string, error) {
	switch step {
	case StepExtract:
		return StreamIngestToExtract, nil
	case StepTranslate:
		return StreamExtractToTranslate, nil
	case StepRender:
		return StreamTranslateToRender, nil
	default:
		return "", fmt.Errorf("no stream for step %d", step)
	}
}
