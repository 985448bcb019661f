package zip

import (
	"archive/zip"
	"bytes"
)

// Panel is one card face ready for archiving.
type Panel struct {
	Filename string
	Data     []byte
}

// ArchivePanels bundles the panels into a single zip for download. Panels
// that cannot be added are skipped rather than failing the archive.
func ArchivePanels(panels []Panel) []byte {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, panel := range panels {
		w, err := zw.Create(panel.Filename)
		if err != nil {
			continue
		}
		if _, err := w.Write(panel.Data); err != nil {
			return nil
		}
	}
	_ = zw.Close()
	return buf.Bytes()
}
