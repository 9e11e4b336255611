package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func jpegFile(t *testing.T, name string, w, h int) File {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 11), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return File{Filename: name, ContentType: "image/jpeg", Data: buf.Bytes()}
}

func stageN(t *testing.T, p *Pipeline, n int) []Staged {
	t.Helper()
	files := make([]File, 0, n)
	for i := 0; i < n; i++ {
		files = append(files, jpegFile(t, fmt.Sprintf("r%d.jpg", i), 8, 8))
	}
	staged, err := p.Add(files)
	if err != nil {
		t.Fatalf("stage %d files: %v", n, err)
	}
	return staged
}

func TestAccepts(t *testing.T) {
	cases := []struct {
		f  File
		ok bool
	}{
		{File{Filename: "a.jpg", ContentType: "image/jpeg"}, true},
		{File{Filename: "a.png", ContentType: "image/png"}, true},
		{File{Filename: "a.heic", ContentType: "image/heic"}, true},
		{File{Filename: "IMG_1.HEIC", ContentType: "application/octet-stream"}, true},
		{File{Filename: "a.gif", ContentType: "image/gif"}, false},
		{File{Filename: "a.pdf", ContentType: "application/pdf"}, false},
	}
	for _, tc := range cases {
		if got := Accepts(tc.f); got != tc.ok {
			t.Fatalf("%s (%s): expected %v", tc.f.Filename, tc.f.ContentType, tc.ok)
		}
	}
}

func TestAddRejectsWholeBatchOverCapacity(t *testing.T) {
	p := NewPipeline()
	stageN(t, p, 4)

	batch := []File{
		jpegFile(t, "x1.jpg", 8, 8),
		jpegFile(t, "x2.jpg", 8, 8),
	}
	if _, err := p.Add(batch); !errors.Is(err, ErrTooManyImages) {
		t.Fatalf("expected ErrTooManyImages, got %v", err)
	}
	if p.Len() != 4 {
		t.Fatalf("rejected batch must stage nothing, got %d", p.Len())
	}

	// A batch that exactly fills capacity still fits.
	if _, err := p.Add(batch[:1]); err != nil {
		t.Fatalf("fifth image should fit: %v", err)
	}
	if p.Len() != Capacity {
		t.Fatalf("expected %d staged, got %d", Capacity, p.Len())
	}
}

func TestAddFiltersUnsupportedBeforeCounting(t *testing.T) {
	p := NewPipeline()
	stageN(t, p, 4)
	batch := []File{
		jpegFile(t, "ok.jpg", 8, 8),
		{Filename: "skip.gif", ContentType: "image/gif", Data: []byte("x")},
		{Filename: "skip.pdf", ContentType: "application/pdf", Data: []byte("x")},
	}
	added, err := p.Add(batch)
	if err != nil {
		t.Fatalf("filtered batch should fit: %v", err)
	}
	if len(added) != 1 || p.Len() != 5 {
		t.Fatalf("expected only the jpeg staged, got %d added, %d total", len(added), p.Len())
	}
}

func TestRemove(t *testing.T) {
	p := NewPipeline()
	staged := stageN(t, p, 2)
	p.Remove(staged[0].ID)
	if p.Len() != 1 {
		t.Fatalf("expected 1 after remove, got %d", p.Len())
	}
	if _, ok := p.Get(staged[0].ID); ok {
		t.Fatalf("removed image still visible")
	}
	p.Remove("unknown") // no-op
	if p.Len() != 1 {
		t.Fatalf("removing unknown id changed the pipeline")
	}
}

func TestExportOrder(t *testing.T) {
	p := NewPipeline()
	stageN(t, p, 3)
	files, err := p.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %d", len(files))
	}
	for i, f := range files {
		want := fmt.Sprintf("r%d.jpg", i)
		if f.Filename != want {
			t.Fatalf("export order broken: got %q at %d", f.Filename, i)
		}
		if len(f.Data) == 0 {
			t.Fatalf("export returned empty data for %q", f.Filename)
		}
	}
}

func TestOpenEditSingleSession(t *testing.T) {
	p := NewPipeline()
	staged := stageN(t, p, 2)

	if _, err := p.OpenEdit("unknown"); !errors.Is(err, ErrImageNotFound) {
		t.Fatalf("expected ErrImageNotFound, got %v", err)
	}
	if _, err := p.OpenEdit(staged[0].ID); err != nil {
		t.Fatalf("open edit: %v", err)
	}
	if _, err := p.OpenEdit(staged[1].ID); !errors.Is(err, ErrEditSessionOpen) {
		t.Fatalf("expected ErrEditSessionOpen, got %v", err)
	}
	p.CancelEdit()
	if _, ok := p.Edit(); ok {
		t.Fatalf("cancel should close the session")
	}
}

func TestCancelEditLeavesImageUntouched(t *testing.T) {
	p := NewPipeline()
	staged := stageN(t, p, 1)
	before, _ := p.Get(staged[0].ID)
	originalBytes := jpegBytes(t, p, staged[0].ID)

	session, err := p.OpenEdit(staged[0].ID)
	if err != nil {
		t.Fatalf("open edit: %v", err)
	}
	session.Rotate()
	session.SetZoom(2)
	session.SetCrop(Crop{X: 1, Y: 1, Width: 4, Height: 4})
	p.CancelEdit()

	after, _ := p.Get(staged[0].ID)
	if after.Rotation != before.Rotation || after.Edited != before.Edited || after.ContentType != before.ContentType {
		t.Fatalf("cancel mutated the staged image: %+v vs %+v", after, before)
	}
	if !bytes.Equal(jpegBytes(t, p, staged[0].ID), originalBytes) {
		t.Fatalf("preview bytes changed after cancel")
	}
}

func jpegBytes(t *testing.T, p *Pipeline, id string) []byte {
	t.Helper()
	files, err := p.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	for i, img := range p.List() {
		if img.ID == id {
			return files[i].Data
		}
	}
	t.Fatalf("image %s not staged", id)
	return nil
}

func TestCommitEditBakesAndReplaces(t *testing.T) {
	p := NewPipeline()
	staged, err := p.Add([]File{jpegFile(t, "receipt.jpg", 8, 12)})
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	original := jpegBytes(t, p, staged[0].ID)

	session, err := p.OpenEdit(staged[0].ID)
	if err != nil {
		t.Fatalf("open edit: %v", err)
	}
	session.Rotate() // 90 degrees

	committed, err := p.CommitEdit()
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if committed.Rotation != 0 || !committed.Edited || committed.ContentType != "image/jpeg" {
		t.Fatalf("commit metadata wrong: %+v", committed)
	}
	if _, ok := p.Edit(); ok {
		t.Fatalf("commit should close the session")
	}

	baked := jpegBytes(t, p, staged[0].ID)
	if bytes.Equal(baked, original) {
		t.Fatalf("preview bytes unchanged after commit")
	}
	cfg, err := jpeg.Decode(bytes.NewReader(baked))
	if err != nil {
		t.Fatalf("decode baked jpeg: %v", err)
	}
	b := cfg.Bounds()
	if b.Dx() != 12 || b.Dy() != 8 {
		t.Fatalf("90 degree bake should swap dimensions, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestCommitEditDecodeFailureLeavesImageUntouched(t *testing.T) {
	p := NewPipeline()
	staged, err := p.Add([]File{{Filename: "broken.jpg", ContentType: "image/jpeg", Data: []byte("not a jpeg")}})
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := p.OpenEdit(staged[0].ID); err != nil {
		t.Fatalf("open edit: %v", err)
	}
	if _, err := p.CommitEdit(); err == nil {
		t.Fatalf("expected decode failure to surface")
	}
	// The session stays open and the image stays unedited.
	if _, ok := p.Edit(); !ok {
		t.Fatalf("failed commit should keep the session open")
	}
	got, _ := p.Get(staged[0].ID)
	if got.Edited {
		t.Fatalf("failed commit marked the image edited")
	}
}

func TestCommitEditWithoutSession(t *testing.T) {
	p := NewPipeline()
	if _, err := p.CommitEdit(); !errors.Is(err, ErrNoEditSession) {
		t.Fatalf("expected ErrNoEditSession, got %v", err)
	}
}

func TestSecondCommitReleasesPriorEditedBlob(t *testing.T) {
	p := NewPipeline()
	staged := stageN(t, p, 1)

	for i := 0; i < 2; i++ {
		session, err := p.OpenEdit(staged[0].ID)
		if err != nil {
			t.Fatalf("open edit %d: %v", i, err)
		}
		session.Rotate()
		if _, err := p.CommitEdit(); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}
	// Export still works: the live preview blob was never released.
	if _, err := p.Export(); err != nil {
		t.Fatalf("export after two commits: %v", err)
	}
}

func TestRemoveClosesEditSession(t *testing.T) {
	p := NewPipeline()
	staged := stageN(t, p, 2)
	if _, err := p.OpenEdit(staged[0].ID); err != nil {
		t.Fatalf("open edit: %v", err)
	}
	p.Remove(staged[0].ID)
	if _, ok := p.Edit(); ok {
		t.Fatalf("removing the edited image should close the session")
	}
	// A session on another image survives removal of a sibling.
	if _, err := p.OpenEdit(staged[1].ID); err != nil {
		t.Fatalf("open edit on survivor: %v", err)
	}
}

func TestSetZoomClamps(t *testing.T) {
	s := &EditSession{Zoom: 1}
	s.SetZoom(0.2)
	if s.Zoom != 1 {
		t.Fatalf("zoom below 1 should clamp to 1, got %v", s.Zoom)
	}
	s.SetZoom(9)
	if s.Zoom != 5 {
		t.Fatalf("zoom above 5 should clamp to 5, got %v", s.Zoom)
	}
}

func TestRotateWraps(t *testing.T) {
	s := &EditSession{}
	for i := 0; i < 4; i++ {
		s.Rotate()
	}
	if s.Rotation != 0 {
		t.Fatalf("four quarter turns should wrap to 0, got %d", s.Rotation)
	}
}

func TestEditSnapshotIsDetached(t *testing.T) {
	p := NewPipeline()
	staged := stageN(t, p, 1)
	open, err := p.OpenEdit(staged[0].ID)
	if err != nil {
		t.Fatalf("open edit: %v", err)
	}
	open.SetCrop(Crop{X: 1, Y: 1, Width: 4, Height: 4})

	snap := open.Snapshot()
	open.Rotate()
	open.SetZoom(3)
	open.SetCrop(Crop{X: 2, Y: 2, Width: 2, Height: 2})

	if snap.Rotation != 0 || snap.Zoom != 1 {
		t.Fatalf("snapshot tracked later edits: %+v", snap)
	}
	if snap.Crop == nil || snap.Crop.X != 1 {
		t.Fatalf("snapshot crop should keep the values at capture: %+v", snap.Crop)
	}
}
