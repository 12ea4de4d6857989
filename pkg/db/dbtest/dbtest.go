// Package dbtest opens throwaway SQLite databases that mirror the Postgres
// schema closely enough for repository and service tests.
package dbtest

import (
	"fmt"
	"io"
	"log"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	Workspaces = `CREATE TABLE workspaces (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	automation_webhook_url TEXT,
	default_pipeline_id TEXT,
	created_at DATETIME,
	updated_at DATETIME
)`

	Conversations = `CREATE TABLE conversations (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	contact_id TEXT NOT NULL,
	connection_id TEXT,
	assigned_user_id TEXT,
	status TEXT NOT NULL DEFAULT 'open',
	closed_at DATETIME,
	created_at DATETIME,
	updated_at DATETIME
)`

	AssignmentHistory = `CREATE TABLE assignment_history (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	action TEXT NOT NULL,
	from_user_id TEXT,
	to_user_id TEXT,
	changed_by TEXT,
	created_at DATETIME
)`

	Queues = `CREATE TABLE queues (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	name TEXT NOT NULL,
	distribution_type TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	last_assigned_user_id TEXT,
	rotation_version INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME,
	updated_at DATETIME
)`

	QueueMembers = `CREATE TABLE queue_members (
	queue_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	created_at DATETIME,
	PRIMARY KEY (queue_id, user_id)
)`

	Connections = `CREATE TABLE connections (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	instance_name TEXT NOT NULL,
	provider_instance_id TEXT,
	api_token TEXT,
	default_queue_id TEXT,
	history_sync_status TEXT NOT NULL DEFAULT 'idle',
	history_sync_updated_at DATETIME,
	webhook_url TEXT,
	webhook_configured_at DATETIME,
	created_at DATETIME,
	updated_at DATETIME,
	UNIQUE (provider, instance_name)
)`

	Pipelines = `CREATE TABLE pipelines (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	name TEXT NOT NULL,
	created_at DATETIME
)`

	PipelineStages = `CREATE TABLE pipeline_stages (
	id TEXT PRIMARY KEY,
	pipeline_id TEXT NOT NULL,
	name TEXT NOT NULL,
	position INTEGER NOT NULL
)`

	PipelineCards = `CREATE TABLE pipeline_cards (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	contact_id TEXT NOT NULL,
	pipeline_id TEXT NOT NULL,
	stage_id TEXT,
	conversation_id TEXT,
	status TEXT NOT NULL DEFAULT 'open',
	created_at DATETIME,
	updated_at DATETIME
)`

	PipelineCardsOpenIndex = `CREATE UNIQUE INDEX ux_pipeline_cards_open_contact_pipeline
	ON pipeline_cards (contact_id, pipeline_id) WHERE status = 'open'`

	OutboxEvents = `CREATE TABLE outbox_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at DATETIME,
	published_at DATETIME,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT
)`

	OutboxDLQ = `CREATE TABLE outbox_dlq (
	id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	error_reason TEXT NOT NULL,
	error_message TEXT,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	failed_at DATETIME,
	created_at DATETIME
)`
)

// All lists every table in dependency order.
var All = []string{
	Workspaces,
	Conversations,
	AssignmentHistory,
	Queues,
	QueueMembers,
	Connections,
	Pipelines,
	PipelineStages,
	PipelineCards,
	PipelineCardsOpenIndex,
	OutboxEvents,
	OutboxDLQ,
}

// Open returns a private in-memory database with ddl applied. With no ddl the
// full schema is created. The pool is pinned to one connection so concurrent
// callers serialize the way row locks would serialize them in Postgres.
func Open(t testing.TB, ddl ...string) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(
			log.New(io.Discard, "", log.LstdFlags),
			gormlogger.Config{LogLevel: gormlogger.Silent},
		),
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if len(ddl) == 0 {
		ddl = All
	}
	for _, stmt := range ddl {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}
