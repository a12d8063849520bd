package office

import (
	"os"

	"github.com/richardlehane/mscfb"
)

// IsLegacyDoc reports whether path is a pre-OOXML binary Word document: an
// OLE compound file carrying a WordDocument stream. Legacy documents cannot
// be parsed by the package backend; the caller routes them to the automation
// backend or rejects them with an accurate reason.
func IsLegacyDoc(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	r, err := mscfb.New(f)
	if err != nil {
		return false
	}
	for entry, err := r.Next(); err == nil; entry, err = r.Next() {
		if entry.Name == "WordDocument" {
			return true
		}
	}
	return false
}
