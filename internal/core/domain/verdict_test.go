package domain

import "testing"

func TestVerdictForCoversEveryCombination(t *testing.T) {
	cases := []struct {
		receipt, legible, extractable bool
		want                          Verdict
	}{
		{false, false, false, VerdictNotReceipt},
		{false, false, true, VerdictNotReceipt},
		{false, true, false, VerdictNotReceipt},
		{false, true, true, VerdictNotReceipt},
		{true, false, false, VerdictBlurry},
		{true, false, true, VerdictBlurry},
		{true, true, false, VerdictUnreadable},
		{true, true, true, VerdictValid},
	}

	for _, tc := range cases {
		got := VerdictFor(ReceiptSignals{
			IsReceipt:     tc.receipt,
			IsLegible:     tc.legible,
			IsExtractable: tc.extractable,
		})
		if got != tc.want {
			t.Fatalf("VerdictFor(%v,%v,%v) = %q, want %q",
				tc.receipt, tc.legible, tc.extractable, got, tc.want)
		}
	}
}

func TestVerdictPrecedenceNotReceiptWinsOverBlurry(t *testing.T) {
	got := VerdictFor(ReceiptSignals{IsReceipt: false, IsLegible: false, IsExtractable: false})
	if got != VerdictNotReceipt {
		t.Fatalf("expected not_receipt to take precedence, got %q", got)
	}
}

func TestItemsTotalIncludesTaxAndTip(t *testing.T) {
	tx := Transaction{
		Tax: 1.25,
		Tip: 2.00,
		Items: []LineItem{
			{Name: "coffee", Quantity: 2, UnitPrice: 3.50, LineTotal: 7.00},
			{Name: "bagel", Quantity: 1, UnitPrice: 2.75, LineTotal: 2.75},
		},
	}
	want := 7.00 + 2.75 + 1.25 + 2.00
	if got := tx.ItemsTotal(); got != want {
		t.Fatalf("ItemsTotal() = %v, want %v", got, want)
	}
}

func TestAttachmentIsImage(t *testing.T) {
	cases := []struct {
		mime string
		want bool
	}{
		{"image/jpeg", true},
		{"IMAGE/PNG", true},
		{" image/heic ", true},
		{"application/pdf", false},
		{"", false},
	}
	for _, tc := range cases {
		att := Attachment{MimeType: tc.mime}
		if got := att.IsImage(); got != tc.want {
			t.Fatalf("IsImage(%q) = %v, want %v", tc.mime, got, tc.want)
		}
	}
}
