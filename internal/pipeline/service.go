package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hongminglow/pipeline-crm/internal/events"
	"github.com/hongminglow/pipeline-crm/internal/models"
	"github.com/hongminglow/pipeline-crm/internal/models/dto"
	"github.com/hongminglow/pipeline-crm/internal/storage"
)

// Store is the persistence the pipeline needs.
type Store interface {
	storage.FunnelStore
	storage.ProspectStore
}

// Publisher receives post-commit events.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event)
}

// Service owns the funnel, stage and prospect write paths.
type Service struct {
	store Store
	bus   Publisher
	now   func() time.Time
}

func NewService(store Store, bus Publisher) *Service {
	return &Service{
		store: store,
		bus:   bus,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// AssignPositions validates stage input and fills positions. Either every
// stage carries a unique positive position or none does, in which case
// positions follow list order starting at 1.
func AssignPositions(in []dto.StageInput) ([]models.FunnelStage, error) {
	stages := make([]models.FunnelStage, 0, len(in))
	explicit := 0
	for i, st := range in {
		name := strings.TrimSpace(st.Name)
		if name == "" {
			return nil, invalid(fmt.Sprintf("stages[%d].name", i), "is required")
		}
		pos := i + 1
		if st.Position != nil {
			explicit++
			pos = *st.Position
		}
		stages = append(stages, models.FunnelStage{Name: name, Position: pos})
	}
	if explicit == 0 {
		return stages, nil
	}
	if explicit != len(in) {
		return nil, invalid("stages", "positions must be given for every stage or for none")
	}

	seen := make(map[int]bool, len(stages))
	for i, st := range stages {
		if st.Position < 1 {
			return nil, invalid(fmt.Sprintf("stages[%d].position", i), "must be a positive integer")
		}
		if seen[st.Position] {
			return nil, invalid(fmt.Sprintf("stages[%d].position", i), "duplicates position %d", st.Position)
		}
		seen[st.Position] = true
	}
	sort.SliceStable(stages, func(i, j int) bool { return stages[i].Position < stages[j].Position })
	return stages, nil
}

// CreateFunnel persists the funnel and its stages in one transaction.
func (s *Service) CreateFunnel(ctx context.Context, req dto.CreateFunnelRequest) (models.Funnel, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return models.Funnel{}, invalid("name", "is required")
	}
	stages, err := AssignPositions(req.Stages)
	if err != nil {
		return models.Funnel{}, err
	}

	funnel, err := s.store.CreateFunnel(ctx, models.Funnel{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Stages:      stages,
	})
	if err != nil {
		return models.Funnel{}, err
	}
	s.bus.Publish(ctx, events.New(events.TopicFunnelCreated, events.FunnelCreated{FunnelID: funnel.ID, Name: funnel.Name}))
	return funnel, nil
}

func (s *Service) UpdateFunnel(ctx context.Context, id int64, req dto.UpdateFunnelRequest) (models.Funnel, error) {
	funnel, err := s.store.GetFunnel(ctx, id)
	if err != nil {
		return models.Funnel{}, err
	}
	if req.Name != nil {
		funnel.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		funnel.Description = strings.TrimSpace(*req.Description)
	}
	if funnel.Name == "" {
		return models.Funnel{}, invalid("name", "is required")
	}
	return s.store.UpdateFunnel(ctx, funnel)
}

// DeleteFunnel removes the funnel with its stages, prospects and their
// activities as one unit.
func (s *Service) DeleteFunnel(ctx context.Context, id int64) error {
	if err := s.store.DeleteFunnelCascade(ctx, id); err != nil {
		return err
	}
	s.bus.Publish(ctx, events.New(events.TopicFunnelDeleted, events.FunnelDeleted{FunnelID: id}))
	return nil
}

// CreateStage appends a stage. A zero position places it after the last stage.
func (s *Service) CreateStage(ctx context.Context, req dto.CreateStageRequest) (models.FunnelStage, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return models.FunnelStage{}, invalid("name", "is required")
	}
	if req.Position < 0 {
		return models.FunnelStage{}, invalid("position", "must be a positive integer")
	}
	if _, err := s.store.GetFunnel(ctx, req.FunnelID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.FunnelStage{}, invalid("funnel_id", "funnel %d does not exist", req.FunnelID)
		}
		return models.FunnelStage{}, err
	}

	pos := req.Position
	if pos == 0 {
		stages, err := s.store.ListStages(ctx, req.FunnelID)
		if err != nil {
			return models.FunnelStage{}, err
		}
		pos = 1
		if n := len(stages); n > 0 {
			pos = stages[n-1].Position + 1
		}
	}
	return s.store.CreateStage(ctx, models.FunnelStage{FunnelID: req.FunnelID, Name: name, Position: pos})
}

func (s *Service) UpdateStage(ctx context.Context, id int64, req dto.UpdateStageRequest) (models.FunnelStage, error) {
	stage, err := s.store.GetStage(ctx, id)
	if err != nil {
		return models.FunnelStage{}, err
	}
	if req.Name != nil {
		stage.Name = strings.TrimSpace(*req.Name)
	}
	if req.Position != nil {
		stage.Position = *req.Position
	}
	if stage.Name == "" {
		return models.FunnelStage{}, invalid("name", "is required")
	}
	if stage.Position < 1 {
		return models.FunnelStage{}, invalid("position", "must be a positive integer")
	}
	return s.store.UpdateStage(ctx, stage)
}

// CreateProspect places a client in a funnel, at the funnel's first stage
// unless a stage is given.
func (s *Service) CreateProspect(ctx context.Context, req dto.CreateProspectRequest) (models.Prospect, error) {
	if req.FunnelID <= 0 {
		return models.Prospect{}, invalid("funnel_id", "is required")
	}
	if req.ClientID <= 0 {
		return models.Prospect{}, invalid("client_id", "is required")
	}

	var stageID int64
	if req.StageID != nil {
		stageID = *req.StageID
	} else {
		stages, err := s.store.ListStages(ctx, req.FunnelID)
		if err != nil {
			return models.Prospect{}, err
		}
		if len(stages) == 0 {
			return models.Prospect{}, invalid("funnel_id", "funnel %d has no stages", req.FunnelID)
		}
		stageID = stages[0].ID
	}

	prospect, err := s.store.CreateProspect(ctx, models.Prospect{
		FunnelID: req.FunnelID,
		ClientID: req.ClientID,
		StageID:  stageID,
	})
	if err != nil {
		return models.Prospect{}, err
	}
	s.bus.Publish(ctx, events.New(events.TopicProspectCreated, events.ProspectCreated{
		ProspectID: prospect.ID,
		FunnelID:   prospect.FunnelID,
		ClientID:   prospect.ClientID,
		StageID:    prospect.StageID,
	}))
	return prospect, nil
}

// TransitionStage moves a prospect to another stage of its funnel and logs a
// stage_change activity in the same transaction. The activity note uses the
// stored stage name.
func (s *Service) TransitionStage(ctx context.Context, prospectID int64, req dto.StageTransitionRequest) (models.Prospect, models.Activity, error) {
	if req.StageID <= 0 {
		return models.Prospect{}, models.Activity{}, invalid("stage_id", "is required")
	}
	current, err := s.store.GetProspect(ctx, prospectID)
	if err != nil {
		return models.Prospect{}, models.Activity{}, missing("prospect", prospectID, err)
	}
	if _, err := s.store.GetStage(ctx, req.StageID); err != nil {
		return models.Prospect{}, models.Activity{}, missing("stage", req.StageID, err)
	}

	at := s.now()
	prospect, activity, err := s.store.TransitionStage(ctx, prospectID, req.StageID, func(stage models.FunnelStage) models.Activity {
		return models.Activity{
			ActivityType: models.ActivityStageChange,
			ActivityDate: at,
			Notes:        "Stage changed to " + stage.Name,
		}
	})
	if err != nil {
		return models.Prospect{}, models.Activity{}, err
	}

	s.bus.Publish(ctx, events.New(events.TopicStageChanged, events.StageChanged{
		ProspectID:  prospect.ID,
		FunnelID:    prospect.FunnelID,
		FromStageID: current.StageID,
		ToStageID:   prospect.StageID,
		StageName:   prospect.StageName,
		ActivityID:  activity.ID,
	}))
	return prospect, activity, nil
}
