package api

import (
	"encoding/json"
	"net/http"
	"time"

	"example.com/healthstore/internal/datatypes"
	"example.com/healthstore/internal/domain"
)

// snapshotPageSize bounds how many records each export read pulls per page.
const snapshotPageSize = 500

// Snapshot is the portable backup format served by /v1/export and accepted
// by /v1/import.
type Snapshot struct {
	Version    int          `json:"version"`
	ExportedAt time.Time    `json:"exported_at"`
	Records    []RecordView `json:"records"`
}

const snapshotVersion = 1

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	snapshot := Snapshot{
		Version:    snapshotVersion,
		ExportedAt: time.Now().UTC(),
		Records:    make([]RecordView, 0),
	}

	for _, t := range datatypes.AllRecordTypes() {
		pageToken := ""
		for {
			records, next, err := h.service.ReadRecordsByFilter(r.Context(), domain.ReadFilter{
				Type:      t,
				PageSize:  snapshotPageSize,
				PageToken: pageToken,
			})
			if err != nil {
				writeDomainError(w, err)
				return
			}
			for _, rec := range records {
				snapshot.Records = append(snapshot.Records, ToRecordView(rec))
			}
			if next == "" {
				break
			}
			pageToken = next
		}
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// ImportResponse reports how many snapshot records were restored.
type ImportResponse struct {
	Imported int `json:"imported"`
}

func (h *Handler) importSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	var snapshot Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snapshot); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse snapshot")
		return
	}
	if snapshot.Version != snapshotVersion {
		writeError(w, http.StatusBadRequest, "validation_failed", "unsupported snapshot version")
		return
	}

	imported := 0
	for start := 0; start < len(snapshot.Records); start += snapshotPageSize {
		end := start + snapshotPageSize
		if end > len(snapshot.Records) {
			end = len(snapshot.Records)
		}

		batch := make([]*datatypes.Record, 0, end-start)
		for i, view := range snapshot.Records[start:end] {
			rec, err := FromRecordView(view)
			if err != nil {
				writeError(w, http.StatusBadRequest, "validation_failed",
					(&domain.ValidationError{Index: start + i, Reason: err.Error()}).Error())
				return
			}
			batch = append(batch, rec)
		}

		if _, err := h.service.UpsertRecords(r.Context(), batch); err != nil {
			writeDomainError(w, err)
			return
		}
		imported += len(batch)
	}

	writeJSON(w, http.StatusOK, ImportResponse{Imported: imported})
}
