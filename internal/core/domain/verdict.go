package domain

// Verdict is the categorical judgment of one attachment image.
type Verdict string

const (
	VerdictValid      Verdict = "valid"
	VerdictNotReceipt Verdict = "not_receipt"
	VerdictBlurry     Verdict = "blurry"
	VerdictUnreadable Verdict = "unreadable"
	VerdictError      Verdict = "error"
)

// ReceiptSignals are the three independent booleans the vision collaborator
// reports for an image, plus its free-form reason. Parsing the collaborator's
// answer into these fields is the adapter's job; mapping them onto a verdict
// happens here.
type ReceiptSignals struct {
	IsReceipt     bool   `json:"is_receipt"`
	IsLegible     bool   `json:"is_legible"`
	IsExtractable bool   `json:"is_extractable"`
	Reason        string `json:"reason,omitempty"`
}

// VerdictFor maps classifier signals onto a verdict. The mapping is total over
// all eight boolean combinations, and the most fundamental defect wins:
// not_receipt over blurry over unreadable. The sender's feedback message
// should name the first thing they need to fix.
func VerdictFor(s ReceiptSignals) Verdict {
	switch {
	case !s.IsReceipt:
		return VerdictNotReceipt
	case !s.IsLegible:
		return VerdictBlurry
	case !s.IsExtractable:
		return VerdictUnreadable
	default:
		return VerdictValid
	}
}
