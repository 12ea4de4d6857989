package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/chatdesk-backend/pkg/db/models"
	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindPipeline(ctx context.Context, workspaceID, pipelineID uuid.UUID) (*models.Pipeline, error)
	FindConversation(ctx context.Context, workspaceID, conversationID uuid.UUID) (*models.Conversation, error)
	FirstStage(ctx context.Context, pipelineID uuid.UUID) (*models.PipelineStage, error)
	FindOpenCard(ctx context.Context, contactID, pipelineID uuid.UUID) (*models.PipelineCard, error)
	AttachConversation(ctx context.Context, cardID, conversationID uuid.UUID, now time.Time) error
	InsertCard(ctx context.Context, card *models.PipelineCard) error
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

func (r *repositoryImpl) FindPipeline(ctx context.Context, workspaceID, pipelineID uuid.UUID) (*models.Pipeline, error) {
	var p models.Pipeline
	err := r.db.WithContext(ctx).
		Where("id = ? AND workspace_id = ?", pipelineID, workspaceID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repositoryImpl) FindConversation(ctx context.Context, workspaceID, conversationID uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).
		Select("id", "workspace_id", "contact_id").
		Where("id = ? AND workspace_id = ?", conversationID, workspaceID).
		Take(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// FirstStage returns nil for a pipeline without stages.
func (r *repositoryImpl) FirstStage(ctx context.Context, pipelineID uuid.UUID) (*models.PipelineStage, error) {
	var stage models.PipelineStage
	err := r.db.WithContext(ctx).
		Where("pipeline_id = ?", pipelineID).
		Order("position ASC").
		First(&stage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &stage, nil
}

// FindOpenCard returns nil when the contact has no open card in the pipeline.
func (r *repositoryImpl) FindOpenCard(ctx context.Context, contactID, pipelineID uuid.UUID) (*models.PipelineCard, error) {
	var card models.PipelineCard
	err := r.db.WithContext(ctx).
		Where("contact_id = ? AND pipeline_id = ? AND status = ?", contactID, pipelineID, enums.PipelineCardOpen).
		First(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

func (r *repositoryImpl) AttachConversation(ctx context.Context, cardID, conversationID uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.PipelineCard{}).
		Where("id = ?", cardID).
		UpdateColumns(map[string]any{
			"conversation_id": conversationID,
			"updated_at":      now,
		}).Error
}

func (r *repositoryImpl) InsertCard(ctx context.Context, card *models.PipelineCard) error {
	return r.db.WithContext(ctx).Create(card).Error
}
