package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
)

// Queue is a routing target. LastAssignedUserID and RotationVersion form the
// round-robin cursor and are only advanced by conditional updates.
type Queue struct {
	ID                 uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	WorkspaceID        uuid.UUID              `gorm:"column:workspace_id;type:uuid;not null"`
	Name               string                 `gorm:"column:name;not null"`
	DistributionType   enums.DistributionType `gorm:"column:distribution_type;type:distribution_type;not null"`
	IsActive           bool                   `gorm:"column:is_active;not null;default:true"`
	LastAssignedUserID *uuid.UUID             `gorm:"column:last_assigned_user_id;type:uuid"`
	RotationVersion    int64                  `gorm:"column:rotation_version;not null;default:0"`
	CreatedAt          time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

type QueueMember struct {
	QueueID   uuid.UUID `gorm:"column:queue_id;type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	Position  int       `gorm:"column:position;not null"`
	IsActive  bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
