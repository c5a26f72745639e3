// Package api exposes HTTP handlers for the health store.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/healthstore/internal/datatypes"
	"example.com/healthstore/internal/domain"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/records", h.records)
	mux.HandleFunc("/v1/records/query-ids", h.queryByIDs)
	mux.HandleFunc("/v1/changes/token", h.changeToken)
	mux.HandleFunc("/v1/changes", h.changes)
	mux.HandleFunc("/v1/aggregate", h.aggregate)
	mux.HandleFunc("/v1/export", h.export)
	mux.HandleFunc("/v1/import", h.importSnapshot)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) records(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.upsertRecords(w, r)
	case http.MethodGet:
		h.listRecords(w, r)
	case http.MethodDelete:
		h.deleteRecords(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// UpsertRecordsRequest is the payload for POST /v1/records.
type UpsertRecordsRequest struct {
	Records []RecordView `json:"records"`
}

// Validate ensures request correctness.
func (r UpsertRecordsRequest) Validate() error {
	if len(r.Records) == 0 {
		return errors.New("records is required")
	}
	return nil
}

// UpsertRecordsResponse carries the assigned ids in submission order.
type UpsertRecordsResponse struct {
	RecordIDs []string `json:"record_ids"`
}

func (h *Handler) upsertRecords(w http.ResponseWriter, r *http.Request) {
	var req UpsertRecordsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	defaultOrigin := r.Header.Get("X-Data-Origin")
	records := make([]*datatypes.Record, 0, len(req.Records))
	for i, view := range req.Records {
		if view.Origin.PackageName == "" {
			view.Origin.PackageName = defaultOrigin
		}
		rec, err := FromRecordView(view)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed",
				"record "+strconv.Itoa(i)+": "+err.Error())
			return
		}
		records = append(records, rec)
	}

	ids, err := h.service.UpsertRecords(r.Context(), records)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := UpsertRecordsResponse{RecordIDs: make([]string, 0, len(ids))}
	for _, id := range ids {
		resp.RecordIDs = append(resp.RecordIDs, id.String())
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRecordsResponse packages one page of filter results.
type ListRecordsResponse struct {
	Records       []RecordView `json:"records"`
	NextPageToken string       `json:"next_page_token,omitempty"`
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	records, next, err := h.service.ReadRecordsByFilter(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := ListRecordsResponse{Records: make([]RecordView, 0, len(records)), NextPageToken: next}
	for _, rec := range records {
		resp.Records = append(resp.Records, ToRecordView(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteRecordsRequest is the payload for DELETE /v1/records. Either a list
// of ids or a filter may be supplied, not both.
type DeleteRecordsRequest struct {
	Type      string   `json:"type"`
	RecordIDs []string `json:"record_ids,omitempty"`
	StartTime *string  `json:"start_time,omitempty"`
	EndTime   *string  `json:"end_time,omitempty"`
	Origins   []string `json:"origins,omitempty"`
}

// DeleteRecordsResponse reports how many records were removed.
type DeleteRecordsResponse struct {
	Deleted int64 `json:"deleted"`
}

func (h *Handler) deleteRecords(w http.ResponseWriter, r *http.Request) {
	var req DeleteRecordsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	t := datatypes.ParseRecordType(req.Type)
	if t == datatypes.TypeUnknown {
		writeError(w, http.StatusBadRequest, "validation_failed", "unknown record type")
		return
	}

	var (
		deleted int64
		err     error
	)
	if len(req.RecordIDs) > 0 {
		ids, parseErr := parseUUIDs(req.RecordIDs)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", parseErr.Error())
			return
		}
		deleted, err = h.service.DeleteRecords(r.Context(), t, ids)
	} else {
		filter := domain.ReadFilter{Type: t, Origins: req.Origins}
		tr, parseErr := timeRangeFromStrings(req.StartTime, req.EndTime)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", parseErr.Error())
			return
		}
		filter.TimeRange = tr
		deleted, err = h.service.DeleteRecordsByFilter(r.Context(), filter)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DeleteRecordsResponse{Deleted: deleted})
}

// QueryByIDsRequest is the payload for POST /v1/records/query-ids.
type QueryByIDsRequest struct {
	Type      string   `json:"type"`
	RecordIDs []string `json:"record_ids"`
}

// Validate ensures request correctness.
func (r QueryByIDsRequest) Validate() error {
	if strings.TrimSpace(r.Type) == "" {
		return errors.New("type is required")
	}
	if len(r.RecordIDs) == 0 {
		return errors.New("record_ids is required")
	}
	return nil
}

// QueryByIDsResponse lists the records found for the requested ids.
type QueryByIDsResponse struct {
	Records []RecordView `json:"records"`
}

func (h *Handler) queryByIDs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	var req QueryByIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	t := datatypes.ParseRecordType(req.Type)
	if t == datatypes.TypeUnknown {
		writeError(w, http.StatusBadRequest, "validation_failed", "unknown record type")
		return
	}
	ids, err := parseUUIDs(req.RecordIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	records, err := h.service.ReadRecords(r.Context(), t, ids)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := QueryByIDsResponse{Records: make([]RecordView, 0, len(records))}
	for _, rec := range records {
		resp.Records = append(resp.Records, ToRecordView(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ChangeTokenRequest is the payload for POST /v1/changes/token.
type ChangeTokenRequest struct {
	RecordTypes []string `json:"record_types"`
	Origins     []string `json:"origins,omitempty"`
}

// Validate ensures request correctness.
func (r ChangeTokenRequest) Validate() error {
	if len(r.RecordTypes) == 0 {
		return errors.New("record_types is required")
	}
	return nil
}

// ChangeTokenResponse carries a freshly issued change log token.
type ChangeTokenResponse struct {
	Token string `json:"token"`
}

func (h *Handler) changeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	var req ChangeTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	types := make([]datatypes.RecordType, 0, len(req.RecordTypes))
	for _, name := range req.RecordTypes {
		t := datatypes.ParseRecordType(name)
		if t == datatypes.TypeUnknown {
			writeError(w, http.StatusBadRequest, "validation_failed", "unknown record type "+strconv.Quote(name))
			return
		}
		types = append(types, t)
	}

	token, err := h.service.GetChangeToken(r.Context(), domain.TokenRequest{
		RecordTypes: types,
		Origins:     req.Origins,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ChangeTokenResponse{Token: token})
}

// ChangesResponse is one page of change replay.
type ChangesResponse struct {
	Upserted   []RecordView `json:"upserted"`
	DeletedIDs []string     `json:"deleted_ids"`
	NextToken  string       `json:"next_token"`
	HasMore    bool         `json:"has_more"`
}

func (h *Handler) changes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing token parameter")
		return
	}

	pageSize := 0
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			pageSize = parsed
		}
	}

	page, err := h.service.GetChanges(r.Context(), token, pageSize)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := ChangesResponse{
		Upserted:   make([]RecordView, 0, len(page.Upserted)),
		DeletedIDs: make([]string, 0, len(page.DeletedUUIDs)),
		NextToken:  page.NextToken,
		HasMore:    page.HasMore,
	}
	for _, rec := range page.Upserted {
		resp.Upserted = append(resp.Upserted, ToRecordView(rec))
	}
	for _, id := range page.DeletedUUIDs {
		resp.DeletedIDs = append(resp.DeletedIDs, id.String())
	}
	writeJSON(w, http.StatusOK, resp)
}

// AggregateHTTPRequest is the payload for POST /v1/aggregate.
type AggregateHTTPRequest struct {
	Aggregations          []string `json:"aggregations"`
	StartTime             string   `json:"start_time"`
	EndTime               string   `json:"end_time"`
	Origins               []string `json:"origins,omitempty"`
	BucketDurationSeconds int64    `json:"bucket_duration_seconds,omitempty"`
}

// Validate ensures request correctness.
func (r AggregateHTTPRequest) Validate() error {
	if len(r.Aggregations) == 0 {
		return errors.New("aggregations is required")
	}
	if strings.TrimSpace(r.StartTime) == "" || strings.TrimSpace(r.EndTime) == "" {
		return errors.New("start_time and end_time are required")
	}
	if r.BucketDurationSeconds < 0 {
		return errors.New("bucket_duration_seconds must be >= 0")
	}
	return nil
}

// AggregateBucketView is one bucket of aggregate results.
type AggregateBucketView struct {
	StartTime time.Time          `json:"start_time"`
	EndTime   time.Time          `json:"end_time"`
	Values    map[string]float64 `json:"values"`
}

// AggregateResponse lists aggregate buckets in time order.
type AggregateResponse struct {
	Buckets []AggregateBucketView `json:"buckets"`
}

func (h *Handler) aggregate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	var req AggregateHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	types := make([]domain.AggregationType, 0, len(req.Aggregations))
	for _, name := range req.Aggregations {
		a := domain.ParseAggregationType(name)
		if a == domain.AggregationUnknown {
			writeError(w, http.StatusBadRequest, "unsupported_aggregation", "unknown aggregation "+strconv.Quote(name))
			return
		}
		types = append(types, a)
	}

	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "start_time must be RFC 3339")
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "end_time must be RFC 3339")
		return
	}

	buckets, err := h.service.Aggregate(r.Context(), domain.AggregateRequest{
		Types:          types,
		TimeRange:      domain.TimeRange{Start: start, End: end},
		Origins:        req.Origins,
		BucketDuration: time.Duration(req.BucketDurationSeconds) * time.Second,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := AggregateResponse{Buckets: make([]AggregateBucketView, 0, len(buckets))}
	for _, b := range buckets {
		view := AggregateBucketView{
			StartTime: b.StartTime,
			EndTime:   b.EndTime,
			Values:    make(map[string]float64, len(b.Values)),
		}
		for a, v := range b.Values {
			view.Values[a.String()] = v
		}
		resp.Buckets = append(resp.Buckets, view)
	}
	writeJSON(w, http.StatusOK, resp)
}

func filterFromQuery(r *http.Request) (domain.ReadFilter, error) {
	q := r.URL.Query()

	t := datatypes.ParseRecordType(q.Get("type"))
	if t == datatypes.TypeUnknown {
		return domain.ReadFilter{}, errors.New("missing or unknown type parameter")
	}

	filter := domain.ReadFilter{
		Type:      t,
		PageToken: q.Get("page_token"),
	}
	if origins := q.Get("origins"); origins != "" {
		filter.Origins = strings.Split(origins, ",")
	}
	if raw := q.Get("page_size"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			filter.PageSize = parsed
		}
	}

	var startStr, endStr *string
	if raw := q.Get("start_time"); raw != "" {
		startStr = &raw
	}
	if raw := q.Get("end_time"); raw != "" {
		endStr = &raw
	}
	tr, err := timeRangeFromStrings(startStr, endStr)
	if err != nil {
		return domain.ReadFilter{}, err
	}
	filter.TimeRange = tr
	return filter, nil
}

func timeRangeFromStrings(startStr, endStr *string) (*domain.TimeRange, error) {
	if startStr == nil && endStr == nil {
		return nil, nil
	}
	if startStr == nil || endStr == nil {
		return nil, errors.New("start_time and end_time must be supplied together")
	}
	start, err := time.Parse(time.RFC3339, *startStr)
	if err != nil {
		return nil, errors.New("start_time must be RFC 3339")
	}
	end, err := time.Parse(time.RFC3339, *endStr)
	if err != nil {
		return nil, errors.New("end_time must be RFC 3339")
	}
	tr := domain.TimeRange{Start: start, End: end}
	if !tr.Valid() {
		return nil, errors.New("start_time must precede end_time")
	}
	return &tr, nil
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, errors.New("malformed record id " + strconv.Quote(s))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func writeDomainError(w http.ResponseWriter, err error) {
	var (
		validationErr  *domain.ValidationError
		conflictErr    *domain.UniquenessConflictError
		aggregationErr *domain.UnsupportedAggregationError
	)
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, "validation_failed", validationErr.Error())
	case errors.As(err, &conflictErr):
		writeError(w, http.StatusConflict, "conflict", conflictErr.Error())
	case errors.As(err, &aggregationErr):
		writeError(w, http.StatusBadRequest, "unsupported_aggregation", aggregationErr.Error())
	case errors.Is(err, domain.ErrInvalidToken):
		writeError(w, http.StatusBadRequest, "invalid_token", "change log token is stale or unknown")
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
