package envelope

import (
	"fmt"
)

// Message type values carried in the Envelope "type" field, set by the stage
// that produced the message.
const (
	TypeFileUploaded   = "file_uploaded"
	TypeTextExtracted  = "text_extracted"
	TypeTextTranslated = "text_translated"
)

// Envelope carries a job's accumulated state between pipeline stages.
// ContentRef and RawBytes are mutually exclusive; IsExternalStorage says
// whether ContentRef points at the object store or the local upload dir.
type Envelope struct {
	Type               string `json:"type"`
	ContentRef         string `json:"content_ref,omitempty"`
	RawBytes           []byte `json:"raw_bytes,omitempty"`
	ContentFingerprint string `json:"content_fingerprint"`
	ExtractedText      string `json:"extracted_text,omitempty"`
	TextFingerprint    string `json:"text_fingerprint,omitempty"`
	TranslatedText     string `json:"translated_text,omitempty"`
	JobID              string `json:"job_id"`
	IsExternalStorage  bool   `json:"is_external_storage"`
}

// Batch is the recovery message shape: retry-ledger row ids to replay on the
// receiving stage's queue.
type Batch struct {
	JobIDs []int64 `json:"job_ids"`
}

// ReadyForStep reports whether the envelope carries everything the given
// step needs. Publishing to step N before step N-1's outputs are set is a
// pipeline bug, not a recoverable failure.
func (e *Envelope) ReadyForStep(step int) error {
	if e.JobID == "" {
		return fmt.Errorf("envelope missing job_id")
	}
	if e.ContentFingerprint == "" {
		return fmt.Errorf("envelope missing content_fingerprint")
	}
	switch step {
	case 1:
		if e.ContentRef == "" && len(e.RawBytes) == 0 {
			return fmt.Errorf("step 1 envelope missing content_ref or raw_bytes")
		}
		if e.ContentRef != "" && len(e.RawBytes) > 0 {
			return fmt.Errorf("envelope has both content_ref and raw_bytes")
		}
	case 2:
		if e.ExtractedText == "" || e.TextFingerprint == "" {
			return fmt.Errorf("step 2 envelope missing extracted text")
		}
	case 3:
		if e.TranslatedText == "" {
			return fmt.Errorf("step 3 envelope missing translated text")
		}
		if e.TextFingerprint == "" {
			return fmt.Errorf("step 3 envelope missing text_fingerprint")
		}
	default:
		return fmt.Errorf("unknown step %d", step)
	}
	return nil
}

// Clone returns a copy the next stage can mutate without sharing state.
func (e *Envelope) Clone() *Envelope {
	dup := *e
	if e.RawBytes != nil {
		dup.RawBytes = append([]byte(nil), e.RawBytes...)
	}
	return &dup
}
