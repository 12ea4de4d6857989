package distribution

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/chatdesk-backend/pkg/db/models"
	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
)

type Repository interface {
	FindConversation(ctx context.Context, workspaceID, conversationID uuid.UUID) (*models.Conversation, error)
	DefaultQueueID(ctx context.Context, workspaceID, connectionID uuid.UUID) (*uuid.UUID, error)
	FindQueue(ctx context.Context, workspaceID, queueID uuid.UUID) (*models.Queue, error)
	ActiveMembers(ctx context.Context, queueID uuid.UUID) ([]models.QueueMember, error)
	FindMember(ctx context.Context, queueID, userID uuid.UUID) (*models.QueueMember, error)
	AdvanceCursor(ctx context.Context, queueID, userID uuid.UUID, expectedVersion int64) (bool, error)
	RewindCursor(ctx context.Context, queueID uuid.UUID, previous *uuid.UUID, expectedVersion int64) (bool, error)
	OpenConversationCounts(ctx context.Context, workspaceID uuid.UUID, userIDs []uuid.UUID) (map[uuid.UUID]int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) FindConversation(ctx context.Context, workspaceID, conversationID uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).
		Where("id = ? AND workspace_id = ?", conversationID, workspaceID).
		First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// DefaultQueueID returns nil when the connection is missing or has no
// default queue.
func (r *repositoryImpl) DefaultQueueID(ctx context.Context, workspaceID, connectionID uuid.UUID) (*uuid.UUID, error) {
	var conn models.Connection
	err := r.db.WithContext(ctx).
		Select("id", "default_queue_id").
		Where("id = ? AND workspace_id = ?", connectionID, workspaceID).
		Take(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conn.DefaultQueueID, nil
}

func (r *repositoryImpl) FindQueue(ctx context.Context, workspaceID, queueID uuid.UUID) (*models.Queue, error) {
	var queue models.Queue
	err := r.db.WithContext(ctx).
		Where("id = ? AND workspace_id = ?", queueID, workspaceID).
		First(&queue).Error
	if err != nil {
		return nil, err
	}
	return &queue, nil
}

func (r *repositoryImpl) ActiveMembers(ctx context.Context, queueID uuid.UUID) ([]models.QueueMember, error) {
	var members []models.QueueMember
	err := r.db.WithContext(ctx).
		Where("queue_id = ? AND is_active = ?", queueID, true).
		Order("position ASC, user_id ASC").
		Find(&members).Error
	return members, err
}

// FindMember loads a membership regardless of is_active. It returns nil when
// the user is no longer in the queue.
func (r *repositoryImpl) FindMember(ctx context.Context, queueID, userID uuid.UUID) (*models.QueueMember, error) {
	var member models.QueueMember
	err := r.db.WithContext(ctx).
		Where("queue_id = ? AND user_id = ?", queueID, userID).
		Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// AdvanceCursor moves the round-robin cursor only if nobody else moved it
// since expectedVersion was read.
func (r *repositoryImpl) AdvanceCursor(ctx context.Context, queueID, userID uuid.UUID, expectedVersion int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Queue{}).
		Where("id = ? AND rotation_version = ?", queueID, expectedVersion).
		UpdateColumns(map[string]any{
			"last_assigned_user_id": userID,
			"rotation_version":      gorm.Expr("rotation_version + 1"),
		})
	return res.RowsAffected == 1, res.Error
}

// RewindCursor restores previous only while the cursor is still at
// expectedVersion, the version our own advance produced.
func (r *repositoryImpl) RewindCursor(ctx context.Context, queueID uuid.UUID, previous *uuid.UUID, expectedVersion int64) (bool, error) {
	var cursor any
	if previous != nil {
		cursor = *previous
	}
	res := r.db.WithContext(ctx).
		Model(&models.Queue{}).
		Where("id = ? AND rotation_version = ?", queueID, expectedVersion).
		UpdateColumns(map[string]any{
			"last_assigned_user_id": cursor,
			"rotation_version":      gorm.Expr("rotation_version + 1"),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repositoryImpl) OpenConversationCounts(ctx context.Context, workspaceID uuid.UUID, userIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	counts := make(map[uuid.UUID]int64, len(userIDs))
	if len(userIDs) == 0 {
		return counts, nil
	}
	var rows []struct {
		AssignedUserID uuid.UUID
		Total          int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Select("assigned_user_id, COUNT(*) AS total").
		Where("workspace_id = ? AND status = ? AND assigned_user_id IN ?", workspaceID, enums.ConversationStatusOpen, userIDs).
		Group("assigned_user_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.AssignedUserID] = row.Total
	}
	return counts, nil
}
