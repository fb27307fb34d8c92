package data

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"Stencil/internal/conf"
	pkgerrors "Stencil/pkg/errors"
	"Stencil/pkg/httpclient"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// RequestLog is one inbound HTTP request record.
type RequestLog struct {
	ID            int64     `gorm:"primaryKey;column:id"`
	CorrelationID string    `gorm:"column:correlation_id;size:64;not null;index"`
	RequestID     string    `gorm:"column:request_id;size:16;not null"`
	Timestamp     time.Time `gorm:"column:timestamp;not null;index"`
	Method        string    `gorm:"column:method;size:10;not null"`
	Path          string    `gorm:"column:path;size:512;not null;index"`
	Query         string    `gorm:"column:query;size:1024"`
	StatusCode    int       `gorm:"column:status_code;not null;index"`
	DurationMs    float64   `gorm:"column:duration_ms;not null"`
	ClientIP      string    `gorm:"column:client_ip;size:64"`
	UserAgent     string    `gorm:"column:user_agent;size:512"`
	AccountID     string    `gorm:"column:account_id;size:64;index"`
	JourneyID     string    `gorm:"column:journey_id;size:64"`
	UserID        string    `gorm:"column:user_id;size:64"`
	Headers       string    `gorm:"column:headers;type:json"`
	ErrorMessage  string    `gorm:"column:error_message;type:text"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// VendorCallLog is one outbound vendor-call record.
type VendorCallLog struct {
	ID              int64     `gorm:"primaryKey;column:id"`
	CorrelationID   string    `gorm:"column:correlation_id;size:64;not null;index"`
	CallID          string    `gorm:"column:call_id;size:64;not null;uniqueIndex"`
	Timestamp       time.Time `gorm:"column:timestamp;not null;index"`
	Vendor          string    `gorm:"column:vendor;size:100;not null;index"`
	Method          string    `gorm:"column:method;size:10;not null"`
	URL             string    `gorm:"column:url;size:1024;not null"`
	Endpoint        string    `gorm:"column:endpoint;size:512"`
	RequestParams   string    `gorm:"column:request_params;type:json"`
	RequestHeaders  string    `gorm:"column:request_headers;type:json"`
	RequestBody     string    `gorm:"column:request_body;type:json"`
	StatusCode      int       `gorm:"column:status_code;index"`
	ResponseHeaders string    `gorm:"column:response_headers;type:json"`
	ResponseBody    string    `gorm:"column:response_body;type:json"`
	DurationMs      float64   `gorm:"column:duration_ms;not null"`
	AccountID       string    `gorm:"column:account_id;size:64;index"`
	JourneyID       string    `gorm:"column:journey_id;size:64"`
	ErrorMessage    string    `gorm:"column:error_message;type:text"`
	CircuitOpen     bool      `gorm:"column:circuit_open;default:false;not null"`
	FallbackUsed    bool      `gorm:"column:fallback_used;default:false;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

// Default table names; overridable through conf.Data.LogStore so deployments
// can point the store at their own tables.
const (
	defaultRequestTable    = "api_request_logs"
	defaultVendorCallTable = "vendor_call_logs"
)

// LogStore persists request and vendor-call logs asynchronously. Writes are
// queued on buffered channels and flushed by background goroutines; when a
// queue is full the record is dropped with a warning. Persistence failures
// go to the process logger, never to the request path.
type LogStore struct {
	db              *gorm.DB
	requestTable    string
	vendorCallTable string
	requestChan     chan *RequestLog
	vendorCallChan  chan *VendorCallLog
	quit            chan struct{}
	closeOnce       sync.Once
	wg              sync.WaitGroup
	logger          *log.Helper
}

// NewLogStore creates the log store and starts its background writers. The
// returned cleanup flushes queued records and stops the writers.
func NewLogStore(c *conf.Data, db *gorm.DB, logger log.Logger) (*LogStore, func()) {
	requestTable := defaultRequestTable
	vendorCallTable := defaultVendorCallTable
	if c != nil && c.LogStore != nil {
		if c.LogStore.RequestTable != "" {
			requestTable = c.LogStore.RequestTable
		}
		if c.LogStore.VendorCallTable != "" {
			vendorCallTable = c.LogStore.VendorCallTable
		}
	}

	s := &LogStore{
		db:              db,
		requestTable:    requestTable,
		vendorCallTable: vendorCallTable,
		requestChan:     make(chan *RequestLog, 1000),
		vendorCallChan:  make(chan *VendorCallLog, 1000),
		quit:            make(chan struct{}),
		logger:          log.NewHelper(logger),
	}

	s.wg.Add(2)
	go s.runRequestWriter()
	go s.runVendorCallWriter()

	return s, s.Close
}

func (s *LogStore) runRequestWriter() {
	defer s.wg.Done()
	for {
		select {
		case rec := <-s.requestChan:
			s.writeRequest(rec)
		case <-s.quit:
			// Flush whatever is still queued, then exit.
			for {
				select {
				case rec := <-s.requestChan:
					s.writeRequest(rec)
				default:
					return
				}
			}
		}
	}
}

func (s *LogStore) writeRequest(rec *RequestLog) {
	if err := s.db.Table(s.requestTable).Create(rec).Error; err != nil {
		s.logger.Errorw("msg", "failed to write request log",
			"correlation_id", rec.CorrelationID,
			"path", rec.Path,
			"error", err)
	}
}

func (s *LogStore) runVendorCallWriter() {
	defer s.wg.Done()
	for {
		select {
		case rec := <-s.vendorCallChan:
			s.writeVendorCall(rec)
		case <-s.quit:
			for {
				select {
				case rec := <-s.vendorCallChan:
					s.writeVendorCall(rec)
				default:
					return
				}
			}
		}
	}
}

func (s *LogStore) writeVendorCall(rec *VendorCallLog) {
	if err := s.db.Table(s.vendorCallTable).Create(rec).Error; err != nil {
		s.logger.Errorw("msg", "failed to write vendor call log",
			"correlation_id", rec.CorrelationID,
			"vendor", rec.Vendor,
			"error", err)
	}
}

// closed reports whether Close has been called.
func (s *LogStore) closed() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

// RecordRequest queues an inbound request record (non-blocking).
func (s *LogStore) RecordRequest(_ context.Context, rec *RequestLog) {
	if s.closed() {
		return
	}
	select {
	case s.requestChan <- rec:
	default:
		s.logger.Warnw("msg", "request log queue full, dropping record",
			"correlation_id", rec.CorrelationID,
			"path", rec.Path)
	}
}

// RecordCall implements httpclient.CallRecorder. The record arrives already
// sanitized.
func (s *LogStore) RecordCall(_ context.Context, rec *httpclient.CallRecord) {
	row := &VendorCallLog{
		CorrelationID:   rec.CorrelationID,
		CallID:          rec.CallID,
		Timestamp:       rec.Timestamp,
		Vendor:          rec.Vendor,
		Method:          rec.Method,
		URL:             rec.URL,
		Endpoint:        rec.Endpoint,
		RequestParams:   marshalJSON(rec.RequestParams),
		RequestHeaders:  marshalJSON(rec.RequestHeaders),
		RequestBody:     marshalJSON(rec.RequestBody),
		StatusCode:      rec.StatusCode,
		ResponseHeaders: marshalJSON(rec.ResponseHeaders),
		ResponseBody:    marshalJSON(rec.ResponseBody),
		DurationMs:      rec.DurationMs,
		AccountID:       rec.AccountID,
		JourneyID:       rec.JourneyID,
		ErrorMessage:    rec.ErrorMessage,
		CircuitOpen:     rec.CircuitOpen,
		FallbackUsed:    rec.FallbackUsed,
	}

	if s.closed() {
		return
	}
	select {
	case s.vendorCallChan <- row:
	default:
		s.logger.Warnw("msg", "vendor call log queue full, dropping record",
			"correlation_id", rec.CorrelationID,
			"vendor", rec.Vendor)
	}
}

// marshalJSON encodes a value for a JSON column; nil and empty collapse to
// "".
func marshalJSON(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case map[string]string:
		if len(t) == 0 {
			return ""
		}
	case map[string]any:
		if len(t) == 0 {
			return ""
		}
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(buf)
}

// RequestLogFilter narrows request-log queries. Zero fields are ignored.
type RequestLogFilter struct {
	CorrelationID string
	Path          string
	StatusCode    int
	AccountID     string
	From          time.Time
	To            time.Time
	Limit         int
	Offset        int
}

// QueryRequestLogs returns matching inbound request records, newest first.
func (s *LogStore) QueryRequestLogs(ctx context.Context, f RequestLogFilter) ([]*RequestLog, int64, error) {
	q := s.db.WithContext(ctx).Table(s.requestTable)
	if f.CorrelationID != "" {
		q = q.Where("correlation_id = ?", f.CorrelationID)
	}
	if f.Path != "" {
		q = q.Where("path = ?", f.Path)
	}
	if f.StatusCode != 0 {
		q = q.Where("status_code = ?", f.StatusCode)
	}
	if f.AccountID != "" {
		q = q.Where("account_id = ?", f.AccountID)
	}
	if !f.From.IsZero() {
		q = q.Where("timestamp >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("timestamp <= ?", f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, pkgerrors.ClassifyDBError(err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var logs []*RequestLog
	err := q.Order("timestamp DESC").Limit(limit).Offset(f.Offset).Find(&logs).Error
	if err != nil {
		return nil, 0, pkgerrors.ClassifyDBError(err)
	}
	return logs, total, nil
}

// VendorCallFilter narrows vendor-call queries. Zero fields are ignored.
type VendorCallFilter struct {
	CorrelationID string
	Vendor        string
	StatusCode    int
	FallbackUsed  *bool
	From          time.Time
	To            time.Time
	Limit         int
	Offset        int
}

// QueryVendorCalls returns matching outbound call records, newest first.
func (s *LogStore) QueryVendorCalls(ctx context.Context, f VendorCallFilter) ([]*VendorCallLog, int64, error) {
	q := s.db.WithContext(ctx).Table(s.vendorCallTable)
	if f.CorrelationID != "" {
		q = q.Where("correlation_id = ?", f.CorrelationID)
	}
	if f.Vendor != "" {
		q = q.Where("vendor = ?", f.Vendor)
	}
	if f.StatusCode != 0 {
		q = q.Where("status_code = ?", f.StatusCode)
	}
	if f.FallbackUsed != nil {
		q = q.Where("fallback_used = ?", *f.FallbackUsed)
	}
	if !f.From.IsZero() {
		q = q.Where("timestamp >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("timestamp <= ?", f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, pkgerrors.ClassifyDBError(err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var calls []*VendorCallLog
	err := q.Order("timestamp DESC").Limit(limit).Offset(f.Offset).Find(&calls).Error
	if err != nil {
		return nil, 0, pkgerrors.ClassifyDBError(err)
	}
	return calls, total, nil
}

// VendorStats aggregates call outcomes for one vendor over a window.
type VendorStats struct {
	Vendor        string  `gorm:"column:vendor" json:"vendor"`
	TotalCalls    int64   `gorm:"column:total_calls" json:"total_calls"`
	FailedCalls   int64   `gorm:"column:failed_calls" json:"failed_calls"`
	FallbackCalls int64   `gorm:"column:fallback_calls" json:"fallback_calls"`
	AvgDurationMs float64 `gorm:"column:avg_duration_ms" json:"avg_duration_ms"`
}

// VendorCallStats aggregates per-vendor call statistics since the given
// time.
func (s *LogStore) VendorCallStats(ctx context.Context, since time.Time) ([]*VendorStats, error) {
	var stats []*VendorStats
	err := s.db.WithContext(ctx).Table(s.vendorCallTable).
		Select(`vendor,
			COUNT(*) AS total_calls,
			SUM(CASE WHEN status_code >= 500 OR status_code = 0 THEN 1 ELSE 0 END) AS failed_calls,
			SUM(CASE WHEN fallback_used THEN 1 ELSE 0 END) AS fallback_calls,
			AVG(duration_ms) AS avg_duration_ms`).
		Where("timestamp >= ?", since).
		Group("vendor").
		Order("vendor ASC").
		Scan(&stats).Error
	if err != nil {
		return nil, pkgerrors.ClassifyDBError(err)
	}
	return stats, nil
}

// Close stops accepting writes, flushes queued records and waits for the
// writer goroutines to exit. Safe to call more than once; records enqueued
// concurrently with Close may be dropped but never panic.
func (s *LogStore) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	s.wg.Wait()
}
