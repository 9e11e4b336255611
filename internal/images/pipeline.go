// Package images stages receipt images ahead of a purchase save and
// hosts the crop/rotate/zoom edit sessions.
package images

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Capacity is the maximum number of staged images per session.
const Capacity = 5

var (
	ErrTooManyImages     = errors.New("too many images")
	ErrImageNotFound     = errors.New("staged image not found")
	ErrUnsupportedType   = errors.New("unsupported image type")
	ErrEditSessionOpen   = errors.New("an edit session is already open")
	ErrNoEditSession     = errors.New("no open edit session")
	ErrBlobReleased      = errors.New("blob already released")
	ErrBlobNotRegistered = errors.New("blob not registered")
)

// File is one incoming upload.
type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Staged is one image held by the pipeline. The preview blob starts as
// the original upload and is replaced when an edit session commits.
type Staged struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Rotation    int    `json:"rotation"`
	Edited      bool   `json:"edited"`

	originalBlob string
	previewBlob  string
}

// Pipeline is the bounded staging collection plus its blob registry.
type Pipeline struct {
	staged []*Staged
	blobs  *registry
	edit   *EditSession
}

// NewPipeline returns an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{blobs: newRegistry()}
}

// Accepts reports whether the upload's type is allowed. HEIC files often
// arrive with a generic content type, so the extension is a fallback.
func Accepts(f File) bool {
	switch strings.ToLower(f.ContentType) {
	case "image/jpeg", "image/png", "image/heic":
		return true
	}
	return strings.HasSuffix(strings.ToLower(f.Filename), ".heic")
}

// Add stages a batch of uploads. Unsupported types are filtered out
// first; if the accepted remainder would push the pipeline past
// capacity, the whole batch is rejected and nothing is staged.
func (p *Pipeline) Add(files []File) ([]Staged, error) {
	accepted := make([]File, 0, len(files))
	for _, f := range files {
		if Accepts(f) {
			accepted = append(accepted, f)
		}
	}
	if len(p.staged)+len(accepted) > Capacity {
		return nil, fmt.Errorf("%w: %d staged, %d incoming, capacity %d",
			ErrTooManyImages, len(p.staged), len(accepted), Capacity)
	}

	added := make([]Staged, 0, len(accepted))
	for _, f := range accepted {
		blobID := p.blobs.register(f.Data, f.ContentType)
		img := &Staged{
			ID:           uuid.NewString(),
			Filename:     f.Filename,
			ContentType:  f.ContentType,
			originalBlob: blobID,
			previewBlob:  blobID,
		}
		p.staged = append(p.staged, img)
		added = append(added, *img)
	}
	return added, nil
}

// Remove deletes a staged entry. Its preview blob is released unless it
// is still the original unedited upload, which belongs to the intake
// step. Unknown ids are a no-op.
func (p *Pipeline) Remove(id string) {
	for i, img := range p.staged {
		if img.ID != id {
			continue
		}
		if p.edit != nil && p.edit.imageID == id {
			p.edit = nil
		}
		if img.previewBlob != img.originalBlob {
			p.blobs.release(img.previewBlob)
		}
		p.staged = append(p.staged[:i], p.staged[i+1:]...)
		return
	}
}

// List returns the staged entries in order.
func (p *Pipeline) List() []Staged {
	out := make([]Staged, 0, len(p.staged))
	for _, img := range p.staged {
		out = append(out, *img)
	}
	return out
}

// Len returns the number of staged images.
func (p *Pipeline) Len() int {
	return len(p.staged)
}

// Get returns one staged entry by id.
func (p *Pipeline) Get(id string) (Staged, bool) {
	img := p.find(id)
	if img == nil {
		return Staged{}, false
	}
	return *img, true
}

// Export returns the current preview bytes of every staged image, in
// order, for upload or extraction.
func (p *Pipeline) Export() ([]File, error) {
	out := make([]File, 0, len(p.staged))
	for _, img := range p.staged {
		data, contentType, err := p.blobs.get(img.previewBlob)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", img.Filename, err)
		}
		out = append(out, File{
			Filename:    img.Filename,
			ContentType: contentType,
			Data:        data,
		})
	}
	return out, nil
}

func (p *Pipeline) find(id string) *Staged {
	for _, img := range p.staged {
		if img.ID == id {
			return img
		}
	}
	return nil
}

// registry tracks preview blobs so each one is released exactly once.
type registry struct {
	blobs map[string]*blob
}

type blob struct {
	data        []byte
	contentType string
	released    bool
}

func newRegistry() *registry {
	return &registry{blobs: make(map[string]*blob)}
}

func (r *registry) register(data []byte, contentType string) string {
	id := uuid.NewString()
	r.blobs[id] = &blob{data: data, contentType: contentType}
	return id
}

func (r *registry) get(id string) ([]byte, string, error) {
	b, ok := r.blobs[id]
	if !ok {
		return nil, "", ErrBlobNotRegistered
	}
	if b.released {
		return nil, "", ErrBlobReleased
	}
	return b.data, b.contentType, nil
}

func (r *registry) release(id string) error {
	b, ok := r.blobs[id]
	if !ok {
		return ErrBlobNotRegistered
	}
	if b.released {
		return ErrBlobReleased
	}
	b.released = true
	b.data = nil
	return nil
}
