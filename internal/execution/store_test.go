package execution

import (
	"path/filepath"
	"testing"
)

func TestJournalSaveGetList(t *testing.T) {
	dir := t.TempDir()
	journal, err := OpenJournal(filepath.Join(dir, "transfers.db"), filepath.Join(dir, "transfers.lock"))
	if err != nil {
		t.Fatalf("OpenJournal failed: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })

	tr := NewTransfer(NewTransferID(), TransferModeSafe, "eip155:10")
	tr.From = "0x5555555555555555555555555555555555555555"
	tr.To = "0x0000000000000000000000000000000000000001"
	tr.AmountBase = "1000"
	if err := journal.Save(tr); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := journal.Get(tr.TransferID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.TransferID != tr.TransferID || got.Mode != TransferModeSafe || got.AmountBase != "1000" {
		t.Fatalf("unexpected transfer: %+v", got)
	}

	got.Status = TransferStatusConfirmed
	got.UserOpHash = "0xabc"
	if err := journal.Save(got); err != nil {
		t.Fatalf("Save update failed: %v", err)
	}
	confirmed, err := journal.List(string(TransferStatusConfirmed), 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(confirmed) != 1 || confirmed[0].UserOpHash != "0xabc" {
		t.Fatalf("expected one confirmed transfer, got %+v", confirmed)
	}
	planned, err := journal.List(string(TransferStatusPlanned), 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(planned) != 0 {
		t.Fatalf("expected update to replace the planned record, got %d", len(planned))
	}
}

func TestJournalGetMissingTransfer(t *testing.T) {
	dir := t.TempDir()
	journal, err := OpenJournal(filepath.Join(dir, "transfers.db"), filepath.Join(dir, "transfers.lock"))
	if err != nil {
		t.Fatalf("OpenJournal failed: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })

	if _, err := journal.Get("missing"); err == nil {
		t.Fatal("expected missing transfer error")
	}
}

func TestMarkFailedRecordsError(t *testing.T) {
	tr := NewTransfer("tr_1", TransferModeEOA, "eip155:1")
	tr.MarkFailed(errTest("boom"))
	if tr.Status != TransferStatusFailed || tr.Error != "boom" {
		t.Fatalf("unexpected transfer %+v", tr)
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
