package fingerprint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillkom/receipt-pipeline/internal/core/domain"
)

func TestMessageFingerprintIsDeterministic(t *testing.T) {
	msg := domain.Message{
		ID:        "msg-1",
		Sender:    "+15550001111",
		Timestamp: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	}
	first := Message(msg)
	second := Message(msg)
	if first != second {
		t.Fatalf("same message produced different fingerprints: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Fatalf("expected hex sha256 fingerprint, got %q", first)
	}
}

func TestMessageFingerprintDistinguishesMessages(t *testing.T) {
	base := domain.Message{
		ID:        "msg-1",
		Sender:    "+15550001111",
		Timestamp: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	}
	other := base
	other.ID = "msg-2"
	if Message(base) == Message(other) {
		t.Fatalf("distinct messages produced the same fingerprint")
	}

	other = base
	other.Sender = "+15550002222"
	if Message(base) == Message(other) {
		t.Fatalf("distinct senders produced the same fingerprint")
	}
}

func TestAttachmentFingerprintUsesFileMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "receipt.jpg")
	if err := os.WriteFile(path, []byte("jpeg bytes"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	att := domain.Attachment{Path: path, MimeType: "image/jpeg"}
	first := Attachment(att, "msg-1")
	second := Attachment(att, "msg-1")
	if first != second {
		t.Fatalf("same attachment produced different fingerprints")
	}

	if Attachment(att, "msg-2") == first {
		t.Fatalf("different owning message should change the fingerprint")
	}

	// Changing size changes the fingerprint.
	if err := os.WriteFile(path, []byte("different jpeg bytes entirely"), 0o644); err != nil {
		t.Fatalf("rewrite fixture: %v", err)
	}
	if Attachment(att, "msg-1") == first {
		t.Fatalf("changed file metadata should change the fingerprint")
	}
}

func TestAttachmentFingerprintFallsBackWhenFileMissing(t *testing.T) {
	att := domain.Attachment{Path: "/nonexistent/receipt.jpg", MimeType: "image/jpeg"}
	first := Attachment(att, "msg-1")
	second := Attachment(att, "msg-1")
	if first == "" {
		t.Fatalf("missing file must still yield a fingerprint")
	}
	if first != second {
		t.Fatalf("fallback fingerprint must be deterministic")
	}
}
