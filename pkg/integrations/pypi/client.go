package pypi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/matzehuels/stacklock/pkg/cache"
	"github.com/matzehuels/stacklock/pkg/integrations"
)

// DefaultIndexURL is the public Python Package Index.
const DefaultIndexURL = "https://pypi.org/simple"

const acceptJSON = "application/vnd.pypi.simple.v1+json"

// Project is one project page of a simple index.
type Project struct {
	Name     string   `json:"name"`
	Files    []File   `json:"files"`
	Versions []string `json:"versions,omitempty"`
}

// File is one distribution file listed on a project page.
type File struct {
	Filename       string            `json:"filename"`
	URL            string            `json:"url"`
	Hashes         map[string]string `json:"hashes"`
	RequiresPython string            `json:"requires-python,omitempty"`
	Yanked         Yanked            `json:"yanked,omitzero"`
	UploadTime     time.Time         `json:"upload-time,omitzero"`
	CoreMetadata   CoreMetadata      `json:"core-metadata,omitzero"`
	// Legacy spelling of CoreMetadata still sent by some indexes.
	DistInfoMetadata CoreMetadata `json:"dist-info-metadata,omitzero"`
}

// HasMetadata reports whether a PEP 658 metadata file is available.
func (f File) HasMetadata() bool {
	return f.CoreMetadata.Available || f.DistInfoMetadata.Available
}

// Yanked is the PEP 592 yank state. The wire form is either a boolean or a
// reason string (which implies yanked).
type Yanked struct {
	Yanked bool
	Reason string
}

func (y *Yanked) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*y = Yanked{Yanked: b}
		return nil
	}
	var reason string
	if err := json.Unmarshal(data, &reason); err != nil {
		return fmt.Errorf("yanked: %w", err)
	}
	*y = Yanked{Yanked: true, Reason: reason}
	return nil
}

func (y Yanked) MarshalJSON() ([]byte, error) {
	if y.Yanked && y.Reason != "" {
		return json.Marshal(y.Reason)
	}
	return json.Marshal(y.Yanked)
}

// CoreMetadata is the PEP 714 "core-metadata" key: either a boolean or a
// map of hashes of the metadata file.
type CoreMetadata struct {
	Available bool
	Hashes    map[string]string
}

func (m *CoreMetadata) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*m = CoreMetadata{Available: b}
		return nil
	}
	var hashes map[string]string
	if err := json.Unmarshal(data, &hashes); err != nil {
		return fmt.Errorf("core-metadata: %w", err)
	}
	*m = CoreMetadata{Available: true, Hashes: hashes}
	return nil
}

func (m CoreMetadata) MarshalJSON() ([]byte, error) {
	if m.Available && len(m.Hashes) > 0 {
		return json.Marshal(m.Hashes)
	}
	return json.Marshal(m.Available)
}

// Client talks to one simple index.
type Client struct {
	*integrations.Client
	indexURL string
}

// NewClient creates a client for the index at indexURL. Responses are cached
// in backend (nil disables caching) under keys scoped to the index.
func NewClient(backend cache.Cache, ttl time.Duration, indexURL string) *Client {
	indexURL = strings.TrimSuffix(indexURL, "/")
	c := integrations.NewClient(backend, "simple", ttl, map[string]string{"Accept": acceptJSON})
	c.SetKeyer(cache.NewScopedKeyer(nil, indexURL+"|"))
	return &Client{Client: c, indexURL: indexURL}
}

// IndexURL returns the index root without a trailing slash.
func (c *Client) IndexURL() string { return c.indexURL }

// Project fetches the project page for name (already PEP 503 normalized).
// File URLs in the result are absolute. refresh bypasses the cache.
func (c *Client) Project(ctx context.Context, name string, refresh bool) (*Project, error) {
	var p Project
	err := c.Cached(ctx, name, refresh, &p, func() error {
		return c.fetchProject(ctx, name, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) fetchProject(ctx context.Context, name string, p *Project) error {
	page := c.indexURL + "/" + url.PathEscape(name) + "/"
	if err := c.Get(ctx, page, p); err != nil {
		return fmt.Errorf("project %s on %s: %w", name, c.indexURL, err)
	}
	base, err := url.Parse(page)
	if err != nil {
		return err
	}
	for i := range p.Files {
		ref, err := url.Parse(p.Files[i].URL)
		if err != nil {
			return fmt.Errorf("project %s: bad file URL %q: %w", name, p.Files[i].URL, err)
		}
		p.Files[i].URL = base.ResolveReference(ref).String()
	}
	return nil
}

// Metadata returns the PEP 658 metadata of f. It returns
// [integrations.ErrNotFound] when the index does not serve one.
func (c *Client) Metadata(ctx context.Context, project string, f File) ([]byte, error) {
	if !f.HasMetadata() {
		return nil, fmt.Errorf("%w: no metadata file for %s", integrations.ErrNotFound, f.Filename)
	}
	key := c.Keyer().MetadataKey(project, f.Filename)
	if data, ok, _ := c.Cache().Get(ctx, key); ok {
		return data, nil
	}

	var data []byte
	err := c.Retry(ctx, func() error {
		var err error
		data, err = c.GetBytes(ctx, metadataURL(f.URL), map[string]string{"Accept": "*/*"})
		return err
	})
	if err != nil {
		return nil, err
	}
	_ = c.Cache().Set(ctx, key, data, 0)
	return data, nil
}

// metadataURL appends ".metadata" to the path, keeping any hash fragment off.
func metadataURL(fileURL string) string {
	u, err := url.Parse(fileURL)
	if err != nil {
		return fileURL + ".metadata"
	}
	u.Fragment = ""
	u.Path += ".metadata"
	return u.String()
}

// Download copies the file at f.URL into w.
func (c *Client) Download(ctx context.Context, f File, w io.Writer) error {
	return c.Retry(ctx, func() error {
		data, err := c.GetBytes(ctx, f.URL, map[string]string{"Accept": "*/*"})
		if err != nil {
			return err
		}
		_, err = io.Copy(w, bytes.NewReader(data))
		return err
	})
}
