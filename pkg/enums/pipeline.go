package enums

// PipelineCardStatus maps to the pipeline_card_status enum in Postgres.
type PipelineCardStatus string

const (
	PipelineCardOpen PipelineCardStatus = "open"
	PipelineCardWon  PipelineCardStatus = "won"
	PipelineCardLost PipelineCardStatus = "lost"
)

var validPipelineCardStatuses = []PipelineCardStatus{
	PipelineCardOpen,
	PipelineCardWon,
	PipelineCardLost,
}

func (s PipelineCardStatus) IsValid() bool {
	for _, candidate := range validPipelineCardStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// EnsureCardAction reports what EnsureCard did.
type EnsureCardAction string

const (
	EnsureCardCreated EnsureCardAction = "created"
	EnsureCardUpdated EnsureCardAction = "updated"
)
