package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/zentrohq/zentro/internal/identity"
	"github.com/zentrohq/zentro/internal/store"
	"github.com/zentrohq/zentro/pkg/models"
)

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

type createTaskRequest struct {
	ProjectID   int64  `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Priority    string `json:"priority,omitempty"`
	EpicID      *int64 `json:"epic_id,omitempty"`
	SprintID    *int64 `json:"sprint_id,omitempty"`
	Estimate    *int   `json:"estimate,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.ProjectID <= 0 || req.Title == "" {
		badRequest(w, "project_id and title are required")
		return
	}

	task := &models.Task{
		ProjectID:   req.ProjectID,
		EpicID:      req.EpicID,
		SprintID:    req.SprintID,
		Title:       req.Title,
		Description: req.Description,
		Status:      models.TaskStatus(req.Status),
		Priority:    models.Priority(req.Priority),
		Estimate:    req.Estimate,
	}
	if req.DueDate != "" {
		due, err := time.Parse("2006-01-02", req.DueDate)
		if err != nil {
			badRequest(w, "due_date must be YYYY-MM-DD")
			return
		}
		task.DueDate = &due
	}
	if userID, ok := identity.UserFrom(r.Context()); ok {
		task.CreatorID = &userID
	}

	var created *models.Task
	err := s.store.WithTx(r.Context(), func(tx *store.Tx) error {
		var err error
		created, err = tx.CreateTask(r.Context(), task)
		return err
	})
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid task id")
		return
	}

	var task *models.Task
	err := s.store.WithTx(r.Context(), func(tx *store.Tx) error {
		var err error
		task, err = tx.GetTask(r.Context(), id)
		return err
	})
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid task id")
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		badRequest(w, "status is required")
		return
	}

	var task *models.Task
	err := s.store.WithTx(r.Context(), func(tx *store.Tx) error {
		var err error
		task, err = tx.UpdateTaskStatus(r.Context(), id, models.TaskStatus(req.Status))
		return err
	})
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Key         string `json:"key,omitempty"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}

	var creatorID *int64
	if userID, ok := identity.UserFrom(r.Context()); ok {
		creatorID = &userID
	}

	var project *models.Project
	err := s.store.WithTx(r.Context(), func(tx *store.Tx) error {
		var err error
		project, err = tx.CreateProject(r.Context(), req.Key, req.Name, req.Description, creatorID)
		return err
	})
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid project id")
		return
	}

	var project *models.Project
	err := s.store.WithTx(r.Context(), func(tx *store.Tx) error {
		var err error
		project, err = tx.GetProject(r.Context(), id)
		return err
	})
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleAddProjectMember(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid project id")
		return
	}
	var req struct {
		UserID int64  `json:"user_id"`
		Role   string `json:"role,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		badRequest(w, "user_id is required")
		return
	}
	role := req.Role
	if role == "" {
		role = "member"
	}

	err := s.store.WithTx(r.Context(), func(tx *store.Tx) error {
		return tx.AddProjectMember(r.Context(), id, req.UserID, role)
	})
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.ProjectMember{ProjectID: id, UserID: req.UserID, Role: role})
}

// handleAuthToken is the development login: it exchanges a known email for a
// bearer token. Real deployments put an identity provider in front.
func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		badRequest(w, "email is required")
		return
	}

	var user *models.User
	err := s.store.WithTx(r.Context(), func(tx *store.Tx) error {
		var err error
		user, err = tx.GetUserByEmail(r.Context(), req.Email)
		return err
	})
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	token, err := s.issuer.Issue(user.ID)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user_id": user.ID})
}
