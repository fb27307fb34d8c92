package data

import (
	"context"
	"os"
	"testing"
	"time"

	"Stencil/internal/conf"
	"Stencil/pkg/httpclient"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupLogStore(t *testing.T, c *conf.Data) (*LogStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	store, cleanup := NewLogStore(c, gdb, log.NewStdLogger(os.Stdout))
	t.Cleanup(cleanup)
	return store, mock
}

func TestLogStore_DefaultTableNames(t *testing.T) {
	store, _ := setupLogStore(t, nil)

	assert.Equal(t, "api_request_logs", store.requestTable)
	assert.Equal(t, "vendor_call_logs", store.vendorCallTable)
}

func TestLogStore_ConfigurableTableNames(t *testing.T) {
	store, _ := setupLogStore(t, &conf.Data{
		LogStore: &conf.Data_LogStore{
			RequestTable:    "custom_requests",
			VendorCallTable: "partner_calls",
		},
	})

	assert.Equal(t, "custom_requests", store.requestTable)
	assert.Equal(t, "partner_calls", store.vendorCallTable)
}

func TestLogStore_RecordRequestWritesAsync(t *testing.T) {
	store, mock := setupLogStore(t, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `api_request_logs`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store.RecordRequest(context.Background(), &RequestLog{
		CorrelationID: "corr-1",
		RequestID:     "req1234567",
		Timestamp:     time.Now(),
		Method:        "GET",
		Path:          "/api/v1/weather",
		StatusCode:    200,
		DurationMs:    12.5,
	})

	assert.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLogStore_RecordCallWritesAsync(t *testing.T) {
	store, mock := setupLogStore(t, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `vendor_call_logs`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store.RecordCall(context.Background(), &httpclient.CallRecord{
		CorrelationID: "corr-1",
		CallID:        "call-uuid-1",
		Timestamp:     time.Now().UTC(),
		Vendor:        "openweathermap",
		Method:        "GET",
		URL:           "https://api.openweathermap.org/data/2.5/weather",
		Endpoint:      "/weather",
		StatusCode:    200,
		DurationMs:    98.2,
		RequestParams: map[string]string{"q": "Pune"},
	})

	assert.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLogStore_CloseFlushesQueuedRecords(t *testing.T) {
	store, mock := setupLogStore(t, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `api_request_logs`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store.RecordRequest(context.Background(), &RequestLog{
		CorrelationID: "corr-close",
		Timestamp:     time.Now(),
		Method:        "GET",
		Path:          "/api/v1/health",
		StatusCode:    200,
	})

	// Close waits for the writers, so the queued record must be persisted
	// by the time it returns.
	store.Close()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogStore_RecordAfterCloseIsDropped(t *testing.T) {
	store, mock := setupLogStore(t, nil)
	store.Close()

	// Neither write may reach the database or panic once the store is
	// closed.
	store.RecordRequest(context.Background(), &RequestLog{
		CorrelationID: "corr-late",
		Path:          "/api/v1/weather",
	})
	store.RecordCall(context.Background(), &httpclient.CallRecord{
		CorrelationID: "corr-late",
		Vendor:        "openweathermap",
	})
	store.Close()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogStore_QueryRequestLogs(t *testing.T) {
	store, mock := setupLogStore(t, nil)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `api_request_logs` WHERE correlation_id = \\? AND status_code = \\?").
		WithArgs("corr-1", 500).
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(2))

	now := time.Now()
	mock.ExpectQuery("SELECT \\* FROM `api_request_logs` WHERE correlation_id = \\? AND status_code = \\? ORDER BY timestamp DESC LIMIT \\?").
		WithArgs("corr-1", 500, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "correlation_id", "path", "status_code", "timestamp"}).
			AddRow(2, "corr-1", "/api/v1/payments", 500, now).
			AddRow(1, "corr-1", "/api/v1/weather", 500, now.Add(-time.Minute)))

	logs, total, err := store.QueryRequestLogs(context.Background(), RequestLogFilter{
		CorrelationID: "corr-1",
		StatusCode:    500,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, logs, 2)
	assert.Equal(t, "/api/v1/payments", logs[0].Path)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogStore_QueryVendorCallsWithFallbackFilter(t *testing.T) {
	store, mock := setupLogStore(t, nil)

	fallback := true

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `vendor_call_logs` WHERE vendor = \\? AND fallback_used = \\?").
		WithArgs("openweathermap", true).
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(1))

	mock.ExpectQuery("SELECT \\* FROM `vendor_call_logs` WHERE vendor = \\? AND fallback_used = \\? ORDER BY timestamp DESC LIMIT \\?").
		WithArgs("openweathermap", true, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "vendor", "fallback_used", "status_code"}).
			AddRow(1, "openweathermap", true, 200))

	calls, total, err := store.QueryVendorCalls(context.Background(), VendorCallFilter{
		Vendor:       "openweathermap",
		FallbackUsed: &fallback,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, calls, 1)
	assert.True(t, calls[0].FallbackUsed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogStore_VendorCallStats(t *testing.T) {
	store, mock := setupLogStore(t, nil)

	mock.ExpectQuery("SELECT vendor,").
		WillReturnRows(sqlmock.NewRows([]string{"vendor", "total_calls", "failed_calls", "fallback_calls", "avg_duration_ms"}).
			AddRow("openweathermap", 120, 4, 2, 85.3).
			AddRow("razorpay", 40, 0, 0, 210.1))

	stats, err := store.VendorCallStats(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "openweathermap", stats[0].Vendor)
	assert.Equal(t, int64(4), stats[0].FailedCalls)
	assert.Equal(t, int64(40), stats[1].TotalCalls)
}

func TestMarshalJSON_CollapsesEmpty(t *testing.T) {
	assert.Empty(t, marshalJSON(nil))
	assert.Empty(t, marshalJSON(map[string]string{}))
	assert.Empty(t, marshalJSON(map[string]any{}))
	assert.Equal(t, `{"q":"Pune"}`, marshalJSON(map[string]string{"q": "Pune"}))
}
