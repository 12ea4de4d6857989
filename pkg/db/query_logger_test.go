package db

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
)

func newCapturedQueryLogger(slow time.Duration) (*queryLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return newQueryLogger(logger.New(logger.Options{ServiceName: "test", Output: buf}), slow), buf
}

func statement() (string, int64) { return "SELECT 1", 1 }

func TestQueryLoggerReportsSlowStatements(t *testing.T) {
	q, buf := newCapturedQueryLogger(10 * time.Millisecond)

	q.Trace(context.Background(), time.Now(), statement, nil)
	assert.Empty(t, buf.String())

	q.Trace(context.Background(), time.Now().Add(-time.Second), statement, nil)
	assert.Contains(t, buf.String(), "slow query")
	assert.Contains(t, buf.String(), `"sql":"SELECT 1"`)
}

func TestQueryLoggerSkipsExpectedErrors(t *testing.T) {
	q, buf := newCapturedQueryLogger(0)

	q.Trace(context.Background(), time.Now(), statement, gorm.ErrRecordNotFound)
	q.Trace(context.Background(), time.Now(), statement, gorm.ErrDuplicatedKey)
	assert.Empty(t, buf.String())

	q.Trace(context.Background(), time.Now(), statement, errors.New("relation missing"))
	assert.Contains(t, buf.String(), "query failed")
}

func TestQueryLoggerSilentMode(t *testing.T) {
	q, buf := newCapturedQueryLogger(time.Nanosecond)
	silent := q.LogMode(gormlogger.Silent)

	silent.Trace(context.Background(), time.Now().Add(-time.Second), statement, errors.New("x"))
	assert.Empty(t, buf.String())
}
