package images

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"math"
)

// EditSession is the modal crop/rotate/zoom workspace for one staged
// image. It is seeded from the image's current rotation and holds its
// own transient values; nothing touches the staged entry until Commit.
type EditSession struct {
	imageID  string
	Rotation int     `json:"rotation"`
	Zoom     float64 `json:"zoom"`
	Crop     *Crop   `json:"crop,omitempty"`
}

// Crop is a rectangle in the rotated image's pixel coordinates.
type Crop struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// OpenEdit starts an edit session for one staged image. Only one session
// may be open at a time.
func (p *Pipeline) OpenEdit(id string) (*EditSession, error) {
	if p.edit != nil {
		return nil, ErrEditSessionOpen
	}
	img := p.find(id)
	if img == nil {
		return nil, ErrImageNotFound
	}
	p.edit = &EditSession{imageID: id, Rotation: img.Rotation, Zoom: 1}
	return p.edit, nil
}

// Edit returns the open session, if any.
func (p *Pipeline) Edit() (*EditSession, bool) {
	if p.edit == nil {
		return nil, false
	}
	return p.edit, true
}

// ImageID returns the staged image the session belongs to.
func (s *EditSession) ImageID() string { return s.imageID }

// Snapshot returns a detached copy of the session's transient values,
// safe to serialize after the caller's lock is released.
func (s *EditSession) Snapshot() EditSession {
	snap := *s
	if s.Crop != nil {
		c := *s.Crop
		snap.Crop = &c
	}
	return snap
}

// Rotate adds a quarter turn to the session's transient rotation.
func (s *EditSession) Rotate() {
	s.Rotation = (s.Rotation + 90) % 360
}

// SetZoom clamps and stores the session zoom factor.
func (s *EditSession) SetZoom(zoom float64) {
	if zoom < 1 {
		zoom = 1
	}
	if zoom > 5 {
		zoom = 5
	}
	s.Zoom = zoom
}

// SetCrop stores the crop rectangle, replacing any prior one.
func (s *EditSession) SetCrop(c Crop) {
	s.Crop = &c
}

// CancelEdit discards the open session. The staged image's preview,
// rotation, and edited flag are exactly as they were before OpenEdit.
func (p *Pipeline) CancelEdit() {
	p.edit = nil
}

// CommitEdit bakes the session's rotation, zoom, and crop into a newly
// encoded JPEG, replaces the preview blob (releasing the prior edited
// blob), resets rotation to zero, and marks the image edited. Decode or
// encode failure aborts the commit and leaves the image untouched.
func (p *Pipeline) CommitEdit() (Staged, error) {
	if p.edit == nil {
		return Staged{}, ErrNoEditSession
	}
	session := p.edit
	img := p.find(session.imageID)
	if img == nil {
		p.edit = nil
		return Staged{}, ErrImageNotFound
	}

	data, _, err := p.blobs.get(img.previewBlob)
	if err != nil {
		return Staged{}, fmt.Errorf("load preview: %w", err)
	}
	baked, err := bake(data, session)
	if err != nil {
		return Staged{}, fmt.Errorf("bake edit for %s: %w", img.Filename, err)
	}

	newBlob := p.blobs.register(baked, "image/jpeg")
	if img.previewBlob != img.originalBlob {
		p.blobs.release(img.previewBlob)
	}
	img.previewBlob = newBlob
	img.ContentType = "image/jpeg"
	img.Rotation = 0
	img.Edited = true
	p.edit = nil
	return *img, nil
}

func bake(data []byte, s *EditSession) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	out := rotateQuarters(src, ((s.Rotation%360)+360)%360/90)
	if s.Crop != nil {
		out = crop(out, *s.Crop)
	}
	if s.Zoom > 1 {
		out = zoomCenter(out, s.Zoom)
	}
	if out.Bounds().Empty() {
		return nil, fmt.Errorf("empty result canvas")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

// rotateQuarters rotates clockwise by quarters * 90 degrees.
func rotateQuarters(src image.Image, quarters int) image.Image {
	if quarters%4 == 0 {
		return src
	}
	b := src.Bounds()
	for q := 0; q < quarters%4; q++ {
		w, h := b.Dx(), b.Dy()
		dst := image.NewRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst.Set(h-1-y, x, src.At(b.Min.X+x, b.Min.Y+y))
			}
		}
		src = dst
		b = dst.Bounds()
	}
	return src
}

func crop(src image.Image, c Crop) image.Image {
	b := src.Bounds()
	rect := image.Rect(c.X, c.Y, c.X+c.Width, c.Y+c.Height).Intersect(b)
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), src, rect.Min, draw.Src)
	return dst
}

// zoomCenter keeps the central 1/zoom portion of the image, scaled back
// to the original dimensions by nearest-neighbor sampling.
func zoomCenter(src image.Image, zoom float64) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	cw := int(math.Round(float64(w) / zoom))
	ch := int(math.Round(float64(h) / zoom))
	if cw < 1 || ch < 1 {
		return src
	}
	offX := b.Min.X + (w-cw)/2
	offY := b.Min.Y + (h-ch)/2

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx := offX + x*cw/w
			sy := offY + y*ch/h
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}
