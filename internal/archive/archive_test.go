package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestZipWriter_UniqueNamesAndOrder(t *testing.T) {
	w := NewZipWriter()
	inputs := []string{"a.png", "a.png", "b.png", "a.png", "../../etc/c.png"}
	var got []string
	for i, name := range inputs {
		n, err := w.AddEntry(name, []byte{byte(i)})
		if err != nil {
			t.Fatalf("AddEntry(%q): %v", name, err)
		}
		got = append(got, n)
	}
	want := []string{"a.png", "a_1.png", "b.png", "a_2.png", "c.png"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}

	data, err := w.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("read zip: %v", err)
	}
	if len(zr.File) != len(want) {
		t.Fatalf("zip has %d entries, want %d", len(zr.File), len(want))
	}
	for i, f := range zr.File {
		if f.Name != want[i] {
			t.Errorf("zip entry %d = %q, want %q", i, f.Name, want[i])
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		b, _ := io.ReadAll(rc)
		rc.Close()
		if len(b) != 1 || b[0] != byte(i) {
			t.Errorf("entry %s content = %v", f.Name, b)
		}
	}
}

func TestZipWriter_Finalized(t *testing.T) {
	w := NewZipWriter()
	if _, err := w.Finalize(); err != nil {
		t.Fatal(err)
	}
	if _, err := w.AddEntry("x.png", nil); !errors.Is(err, ErrFinalized) {
		t.Errorf("AddEntry after Finalize = %v", err)
	}
	if _, err := w.Finalize(); !errors.Is(err, ErrFinalized) {
		t.Errorf("second Finalize = %v", err)
	}
}
