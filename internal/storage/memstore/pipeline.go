package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/hongminglow/pipeline-crm/internal/models"
	"github.com/hongminglow/pipeline-crm/internal/storage"
)

// Funnels and stages

func (s *Store) CreateFunnel(_ context.Context, funnel models.Funnel) (models.Funnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[int]bool{}
	for _, st := range funnel.Stages {
		if seen[st.Position] {
			return models.Funnel{}, fmt.Errorf("%w: funnel_stages_funnel_id_position_key", storage.ErrAlreadyExists)
		}
		seen[st.Position] = true
	}

	funnel.ID = s.next("funnels")
	funnel.CreatedAt = s.now()
	funnel.UpdatedAt = funnel.CreatedAt
	stages := funnel.Stages
	funnel.Stages = nil
	s.funnels[funnel.ID] = funnel

	for _, st := range stages {
		st.ID = s.next("stages")
		st.FunnelID = funnel.ID
		s.stages[st.ID] = st
	}
	return s.funnelWithStages(funnel), nil
}

func (s *Store) funnelWithStages(f models.Funnel) models.Funnel {
	f.Stages = s.stagesOf(f.ID)
	return f
}

func (s *Store) stagesOf(funnelID int64) []models.FunnelStage {
	stages := []models.FunnelStage{}
	for _, st := range s.stages {
		if st.FunnelID == funnelID {
			stages = append(stages, st)
		}
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].Position < stages[j].Position })
	return stages
}

func (s *Store) GetFunnel(_ context.Context, id int64) (models.Funnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.funnels[id]
	if !ok {
		return models.Funnel{}, notFound("funnel", id)
	}
	return s.funnelWithStages(f), nil
}

func (s *Store) ListFunnels(_ context.Context) ([]models.Funnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	funnels := []models.Funnel{}
	for _, id := range sortedKeys(s.funnels) {
		funnels = append(funnels, s.funnelWithStages(s.funnels[id]))
	}
	return funnels, nil
}

func (s *Store) UpdateFunnel(_ context.Context, funnel models.Funnel) (models.Funnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.funnels[funnel.ID]
	if !ok {
		return models.Funnel{}, notFound("funnel", funnel.ID)
	}
	current.Name = funnel.Name
	current.Description = funnel.Description
	current.UpdatedAt = s.now()
	s.funnels[funnel.ID] = current
	return s.funnelWithStages(current), nil
}

func (s *Store) DeleteFunnelCascade(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.funnels[id]; !ok {
		return notFound("funnel", id)
	}
	for pid, p := range s.prospects {
		if p.FunnelID == id {
			s.removeProspect(pid)
		}
	}
	for sid, st := range s.stages {
		if st.FunnelID == id {
			delete(s.stages, sid)
		}
	}
	delete(s.funnels, id)
	return nil
}

func (s *Store) CreateStage(_ context.Context, stage models.FunnelStage) (models.FunnelStage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.funnels[stage.FunnelID]; !ok {
		return models.FunnelStage{}, invalidRef("funnel", stage.FunnelID)
	}
	if s.positionTaken(stage.FunnelID, stage.Position, 0) {
		return models.FunnelStage{}, fmt.Errorf("%w: funnel_stages_funnel_id_position_key", storage.ErrAlreadyExists)
	}
	stage.ID = s.next("stages")
	s.stages[stage.ID] = stage
	return stage, nil
}

func (s *Store) positionTaken(funnelID int64, position int, exceptID int64) bool {
	for _, st := range s.stages {
		if st.FunnelID == funnelID && st.Position == position && st.ID != exceptID {
			return true
		}
	}
	return false
}

func (s *Store) GetStage(_ context.Context, id int64) (models.FunnelStage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stages[id]
	if !ok {
		return models.FunnelStage{}, notFound("stage", id)
	}
	return st, nil
}

func (s *Store) ListStages(_ context.Context, funnelID int64) ([]models.FunnelStage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stagesOf(funnelID), nil
}

func (s *Store) UpdateStage(_ context.Context, stage models.FunnelStage) (models.FunnelStage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.stages[stage.ID]
	if !ok {
		return models.FunnelStage{}, notFound("stage", stage.ID)
	}
	if s.positionTaken(current.FunnelID, stage.Position, stage.ID) {
		return models.FunnelStage{}, fmt.Errorf("%w: funnel_stages_funnel_id_position_key", storage.ErrAlreadyExists)
	}
	current.Name = stage.Name
	current.Position = stage.Position
	s.stages[stage.ID] = current
	return current, nil
}

func (s *Store) DeleteStage(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stages[id]; !ok {
		return notFound("stage", id)
	}
	for _, p := range s.prospects {
		if p.StageID == id {
			return fmt.Errorf("%w: stage %d has prospects", storage.ErrInUse, id)
		}
	}
	delete(s.stages, id)
	return nil
}

// Prospects

func (s *Store) CreateProspect(_ context.Context, prospect models.Prospect) (models.Prospect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stages[prospect.StageID]
	if !ok || st.FunnelID != prospect.FunnelID {
		return models.Prospect{}, fmt.Errorf("%w: stage %d is not part of funnel %d", storage.ErrInvalidReference, prospect.StageID, prospect.FunnelID)
	}
	if _, ok := s.clients[prospect.ClientID]; !ok {
		return models.Prospect{}, invalidRef("client", prospect.ClientID)
	}
	prospect.ID = s.next("prospects")
	prospect.CreatedAt = s.now()
	prospect.UpdatedAt = prospect.CreatedAt
	prospect.StageName = ""
	prospect.Client = nil
	s.prospects[prospect.ID] = prospect
	return s.hydrate(prospect), nil
}

// hydrate attaches the joined stage name and client.
func (s *Store) hydrate(p models.Prospect) models.Prospect {
	p.StageName = s.stages[p.StageID].Name
	if c, ok := s.clients[p.ClientID]; ok {
		p.Client = &c
	}
	return p
}

func (s *Store) GetProspect(_ context.Context, id int64) (models.Prospect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prospects[id]
	if !ok {
		return models.Prospect{}, notFound("prospect", id)
	}
	return s.hydrate(p), nil
}

func (s *Store) ListProspectsByFunnel(_ context.Context, funnelID int64) ([]models.Prospect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prospects := []models.Prospect{}
	for _, id := range sortedKeys(s.prospects) {
		if p := s.prospects[id]; p.FunnelID == funnelID {
			prospects = append(prospects, s.hydrate(p))
		}
	}
	sort.SliceStable(prospects, func(i, j int) bool {
		return s.stages[prospects[i].StageID].Position < s.stages[prospects[j].StageID].Position
	})
	return prospects, nil
}

func (s *Store) DeleteProspect(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prospects[id]; !ok {
		return notFound("prospect", id)
	}
	s.removeProspect(id)
	return nil
}

// removeProspect deletes the prospect, its activities and detaches its tasks.
// Callers hold the lock.
func (s *Store) removeProspect(id int64) {
	for aid, a := range s.activities {
		if a.ProspectID == id {
			delete(s.activities, aid)
		}
	}
	for tid, t := range s.tasks {
		if t.ProspectID != nil && *t.ProspectID == id {
			t.ProspectID = nil
			s.tasks[tid] = t
		}
	}
	delete(s.prospects, id)
}

func (s *Store) TransitionStage(_ context.Context, prospectID, stageID int64, build storage.ActivityBuilder) (models.Prospect, models.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prospects[prospectID]
	if !ok {
		return models.Prospect{}, models.Activity{}, notFound("prospect", prospectID)
	}
	st, ok := s.stages[stageID]
	if !ok {
		return models.Prospect{}, models.Activity{}, fmt.Errorf("%w: stage %d does not exist", storage.ErrInvalidReference, stageID)
	}
	if st.FunnelID != p.FunnelID {
		return models.Prospect{}, models.Activity{}, fmt.Errorf("%w: stage %d is not part of funnel %d", storage.ErrInvalidReference, stageID, p.FunnelID)
	}

	p.StageID = stageID
	p.UpdatedAt = s.now()
	s.prospects[prospectID] = p

	a := build(st)
	a.ProspectID = prospectID
	a.ID = s.next("activities")
	s.activities[a.ID] = a
	return s.hydrate(p), a, nil
}

func (s *Store) ListRecipients(_ context.Context, filter models.ProspectFilter) ([]models.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recipients := []models.Recipient{}
	for _, id := range sortedKeys(s.prospects) {
		p := s.prospects[id]
		if filter.FunnelID != nil && p.FunnelID != *filter.FunnelID {
			continue
		}
		if filter.StageID != nil && p.StageID != *filter.StageID {
			continue
		}
		c, ok := s.clients[p.ClientID]
		if !ok {
			continue
		}
		recipients = append(recipients, models.Recipient{
			ProspectID: p.ID,
			ClientID:   c.ID,
			ClientName: c.Name,
			Company:    c.Company,
			Email:      c.Email,
			FunnelName: s.funnels[p.FunnelID].Name,
			StageName:  s.stages[p.StageID].Name,
		})
	}
	return recipients, nil
}

// Activities

func (s *Store) CreateActivity(_ context.Context, a models.Activity) (models.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prospects[a.ProspectID]; !ok {
		return models.Activity{}, invalidRef("prospect", a.ProspectID)
	}
	if a.ActivityDate.IsZero() {
		a.ActivityDate = s.now()
	}
	a.ID = s.next("activities")
	s.activities[a.ID] = a
	return a, nil
}

func (s *Store) GetActivity(_ context.Context, id int64) (models.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activities[id]
	if !ok {
		return models.Activity{}, notFound("activity", id)
	}
	return a, nil
}

func (s *Store) ListActivitiesByProspect(_ context.Context, prospectID int64) ([]models.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	activities := []models.Activity{}
	for _, id := range sortedKeys(s.activities) {
		if a := s.activities[id]; a.ProspectID == prospectID {
			activities = append(activities, a)
		}
	}
	sort.SliceStable(activities, func(i, j int) bool {
		if activities[i].ActivityDate.Equal(activities[j].ActivityDate) {
			return activities[i].ID > activities[j].ID
		}
		return activities[i].ActivityDate.After(activities[j].ActivityDate)
	})
	return activities, nil
}

func (s *Store) UpdateActivity(_ context.Context, a models.Activity) (models.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.activities[a.ID]
	if !ok {
		return models.Activity{}, notFound("activity", a.ID)
	}
	current.ActivityType = a.ActivityType
	if !a.ActivityDate.IsZero() {
		current.ActivityDate = a.ActivityDate
	}
	current.Notes = a.Notes
	s.activities[a.ID] = current
	return current, nil
}

func (s *Store) DeleteActivity(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.activities[id]; !ok {
		return notFound("activity", id)
	}
	delete(s.activities, id)
	return nil
}

// Tasks

func (s *Store) checkTaskRefs(t models.Task) error {
	if t.AssignedTo != nil {
		if _, ok := s.users[*t.AssignedTo]; !ok {
			return invalidRef("user", *t.AssignedTo)
		}
	}
	if t.ProspectID != nil {
		if _, ok := s.prospects[*t.ProspectID]; !ok {
			return invalidRef("prospect", *t.ProspectID)
		}
	}
	return nil
}

func (s *Store) CreateTask(_ context.Context, t models.Task) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkTaskRefs(t); err != nil {
		return models.Task{}, err
	}
	if t.Status == "" {
		t.Status = "pending"
	}
	t.ID = s.next("tasks")
	t.CreatedAt = s.now()
	t.UpdatedAt = t.CreatedAt
	s.tasks[t.ID] = t
	return t, nil
}

func (s *Store) GetTask(_ context.Context, id int64) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return models.Task{}, notFound("task", id)
	}
	return t, nil
}

func (s *Store) ListTasks(_ context.Context) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := []models.Task{}
	for _, id := range sortedKeys(s.tasks) {
		tasks = append(tasks, s.tasks[id])
	}
	return tasks, nil
}

func (s *Store) UpdateTask(_ context.Context, t models.Task) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[t.ID]
	if !ok {
		return models.Task{}, notFound("task", t.ID)
	}
	if err := s.checkTaskRefs(t); err != nil {
		return models.Task{}, err
	}
	if t.Status == "" {
		t.Status = current.Status
	}
	t.CreatedAt = current.CreatedAt
	t.UpdatedAt = s.now()
	s.tasks[t.ID] = t
	return t, nil
}

func (s *Store) UpdateTaskStatus(_ context.Context, id int64, status string) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return models.Task{}, notFound("task", id)
	}
	t.Status = status
	t.UpdatedAt = s.now()
	s.tasks[id] = t
	return t, nil
}

func (s *Store) DeleteTask(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return notFound("task", id)
	}
	delete(s.tasks, id)
	return nil
}
