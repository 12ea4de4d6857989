package assignments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/chatdesk-backend/pkg/db/models"
	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
)

// Repository holds the conditional writes that move conversation ownership.
// Each write reports whether it won; none of them read-then-write.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindConversation(ctx context.Context, workspaceID, conversationID uuid.UUID) (*models.Conversation, error)
	ClaimIfUnassigned(ctx context.Context, workspaceID, conversationID, agentID uuid.UUID, now time.Time) (bool, error)
	TransferIfOwner(ctx context.Context, workspaceID, conversationID, fromUserID, toUserID uuid.UUID, now time.Time) (bool, error)
	ReleaseIfOwner(ctx context.Context, workspaceID, conversationID, ownerID uuid.UUID, now time.Time) (bool, error)
	CloseIfOpen(ctx context.Context, workspaceID, conversationID uuid.UUID, now time.Time) (bool, error)
	InsertHistory(ctx context.Context, entry *models.AssignmentHistory) error
	ListHistory(ctx context.Context, workspaceID, conversationID uuid.UUID) ([]models.AssignmentHistory, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
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

func (r *repositoryImpl) scoped(ctx context.Context, workspaceID, conversationID uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ? AND workspace_id = ? AND status = ?", conversationID, workspaceID, enums.ConversationStatusOpen)
}

func (r *repositoryImpl) ClaimIfUnassigned(ctx context.Context, workspaceID, conversationID, agentID uuid.UUID, now time.Time) (bool, error) {
	res := r.scoped(ctx, workspaceID, conversationID).
		Where("assigned_user_id IS NULL").
		UpdateColumns(map[string]any{
			"assigned_user_id": agentID,
			"updated_at":       now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repositoryImpl) TransferIfOwner(ctx context.Context, workspaceID, conversationID, fromUserID, toUserID uuid.UUID, now time.Time) (bool, error) {
	res := r.scoped(ctx, workspaceID, conversationID).
		Where("assigned_user_id = ?", fromUserID).
		UpdateColumns(map[string]any{
			"assigned_user_id": toUserID,
			"updated_at":       now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repositoryImpl) ReleaseIfOwner(ctx context.Context, workspaceID, conversationID, ownerID uuid.UUID, now time.Time) (bool, error) {
	res := r.scoped(ctx, workspaceID, conversationID).
		Where("assigned_user_id = ?", ownerID).
		UpdateColumns(map[string]any{
			"assigned_user_id": nil,
			"updated_at":       now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repositoryImpl) CloseIfOpen(ctx context.Context, workspaceID, conversationID uuid.UUID, now time.Time) (bool, error) {
	res := r.scoped(ctx, workspaceID, conversationID).
		UpdateColumns(map[string]any{
			"status":     enums.ConversationStatusClosed,
			"closed_at":  now,
			"updated_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repositoryImpl) InsertHistory(ctx context.Context, entry *models.AssignmentHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repositoryImpl) ListHistory(ctx context.Context, workspaceID, conversationID uuid.UUID) ([]models.AssignmentHistory, error) {
	var rows []models.AssignmentHistory
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND workspace_id = ?", conversationID, workspaceID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}
