package handlers

import (
	"fmt"
	"io"
	"net/http"

	"cardforge/pkg/zip"
)

const maxPanelBytes = 32 << 20

// Download bundles the finished card's panels into a zip archive.
func (a *App) Download(w http.ResponseWriter, r *http.Request) {
	card := a.Cards.ReadyCard()
	if card == nil {
		a.error(w, http.StatusNotFound, "not_found", "no finished card to download")
		return
	}

	panels := make([]zip.Panel, 0, len(card.Panels))
	for _, panel := range card.Panels {
		data, err := a.fetchPanel(r, panel.URL)
		if err != nil {
			a.Logger.Error().Err(err).Str("panel", panel.Name).Msg("handlers: fetch panel for download failed")
			a.error(w, http.StatusBadGateway, "panel_unreachable", "could not retrieve panel images")
			return
		}
		panels = append(panels, zip.Panel{Filename: panel.Name + ".png", Data: data})
	}

	archive := zip.ArchivePanels(panels)
	if archive == nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to build archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "card-"+card.ID+".zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

func (a *App) fetchPanel(r *http.Request, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.fetch.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("panel fetch status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPanelBytes))
}
