// Package fingerprint derives stable tokens from message and attachment
// metadata for membership tests. Fingerprints are deliberately cheap: they
// hash content-adjacent metadata, never the image payload itself.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/kirillkom/receipt-pipeline/internal/core/domain"
)

// Message fingerprints a message from its identifier, timestamp and sender.
// Identical inputs always yield the identical token.
func Message(msg domain.Message) string {
	return digest(fmt.Sprintf("msg|%s|%d|%s", msg.ID, msg.Timestamp.UnixNano(), msg.Sender))
}

// Attachment fingerprints an attachment from its location handle, size and
// mtime, combined with the owning message ID. When the referenced file cannot
// be stat'ed (it may have vanished), the fingerprint degrades to location
// handle plus message ID; a missing file must never crash the pipeline.
//
// Two attachments with an identical path/size/mtime/message quadruplet are
// treated as the same attachment even if their bytes differ. Upgrading to a
// full content digest would close that gap at the cost of reading every
// attachment up front.
func Attachment(att domain.Attachment, messageID string) string {
	info, err := os.Stat(att.Path)
	if err != nil {
		return digest(fmt.Sprintf("att|%s|%s", messageID, att.Path))
	}
	return digest(fmt.Sprintf("att|%s|%s|%d|%d", messageID, att.Path, info.Size(), info.ModTime().UnixNano()))
}

func digest(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
