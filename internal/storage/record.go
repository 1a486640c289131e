package storage

// Record is one stored snippet.
type Record struct {
	ID      int64   `json:"id,omitempty"`
	Title   string  `json:"titulo"`
	Content string  `json:"conteudo"`
	Image   *string `json:"imagem,omitempty"` // data URI; nil when absent
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Image != nil {
		img := *r.Image
		c.Image = &img
	}
	return &c
}

// IndexValue returns the value r contributes to the named index. Records
// without an image are not part of the image index.
func (r *Record) IndexValue(index string) (string, bool) {
	switch index {
	case IndexTitle:
		return r.Title, true
	case IndexContent:
		return r.Content, true
	case IndexImage:
		if r.Image == nil {
			return "", false
		}
		return *r.Image, true
	}
	return "", false
}

// StringPtr returns a pointer to s, or nil if s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func validIndex(index string) bool {
	for _, name := range Indexes {
		if name == index {
			return true
		}
	}
	return false
}
