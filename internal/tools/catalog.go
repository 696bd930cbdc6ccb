package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zentrohq/zentro/internal/identity"
	"github.com/zentrohq/zentro/internal/store"
	"github.com/zentrohq/zentro/pkg/models"
)

const dueDateLayout = "2006-01-02"

// RegisterCatalog installs the full identity-scoped tool surface. Parameters
// named in Injected always resolve from the request context; the model never
// controls them.
func RegisterCatalog(r *Registry) {
	r.MustRegister(Definition{
		Name:        "task_create",
		Description: "Create a task in a project. Priorities: low, medium, high, critical, blocker. Statuses: draft, todo, in_progress, in_review, done, blocked.",
		Params:      &taskCreateParams{},
		Injected:    []string{"creator_id"},
		Handler:     taskCreate,
	})
	r.MustRegister(Definition{
		Name:        "task_get",
		Description: "Get a task summary by id.",
		Params:      &taskIDParams{},
		Handler:     taskGet,
	})
	r.MustRegister(Definition{
		Name:        "task_update",
		Description: "Update fields of a task. Only the provided fields change.",
		Params:      &taskUpdateParams{},
		Handler:     taskUpdate,
	})
	r.MustRegister(Definition{
		Name:        "task_update_status",
		Description: "Set the status of a task.",
		Params:      &taskUpdateStatusParams{},
		Handler:     taskUpdateStatus,
	})
	r.MustRegister(Definition{
		Name:        "task_delete",
		Description: "Delete a task. Its assignments and follow-ups are removed with it.",
		Params:      &taskIDParams{},
		Handler:     taskDelete,
	})
	r.MustRegister(Definition{
		Name:        "task_assign",
		Description: "Assign a user to a task. Assigning an already-assigned user succeeds.",
		Params:      &taskAssigneeParams{},
		Handler:     taskAssign,
	})
	r.MustRegister(Definition{
		Name:        "task_unassign",
		Description: "Remove a user from a task's assignees.",
		Params:      &taskAssigneeParams{},
		Handler:     taskUnassign,
	})
	r.MustRegister(Definition{
		Name:        "task_list_my",
		Description: "List the tasks assigned to the current user.",
		Params:      &taskListMyParams{},
		Injected:    []string{"user_id"},
		Handler:     taskListMy,
	})
	r.MustRegister(Definition{
		Name:        "task_search",
		Description: "Search tasks in a project by title or description, case-insensitive.",
		Params:      &taskSearchParams{},
		Handler:     taskSearch,
	})
	r.MustRegister(Definition{
		Name:        "task_count_by_status",
		Description: "Count a project's tasks grouped by status.",
		Params:      &projectIDParams{},
		Handler:     taskCountByStatus,
	})
	r.MustRegister(Definition{
		Name:        "task_list_overdue",
		Description: "List tasks whose due date has passed and that are not done.",
		Params:      nil,
		Handler:     taskListOverdue,
	})
	r.MustRegister(Definition{
		Name:        "project_create",
		Description: "Create a new project. The key is derived from the name when omitted.",
		Params:      &projectCreateParams{},
		Injected:    []string{"creator_id"},
		Handler:     projectCreate,
	})
	r.MustRegister(Definition{
		Name:        "project_get",
		Description: "Get a project summary by id.",
		Params:      &projectIDParams{},
		Handler:     projectGet,
	})
	r.MustRegister(Definition{
		Name:        "project_list",
		Description: "List the projects the current user is a member of.",
		Params:      &projectListParams{},
		Injected:    []string{"user_id"},
		Handler:     projectList,
	})
	r.MustRegister(Definition{
		Name:        "project_add_member",
		Description: "Add a user to a project. Fails if the user is already a member.",
		Params:      &projectAddMemberParams{},
		Handler:     projectAddMember,
	})
	r.MustRegister(Definition{
		Name:        "project_members_list",
		Description: "List the members of a project with their roles.",
		Params:      &projectIDParams{},
		Handler:     projectMembersList,
	})
	r.MustRegister(Definition{
		Name:        "epic_create",
		Description: "Create an epic in a project.",
		Params:      &epicCreateParams{},
		Handler:     epicCreate,
	})
	r.MustRegister(Definition{
		Name:        "epic_get",
		Description: "Get an epic summary by id.",
		Params:      &epicIDParams{},
		Handler:     epicGet,
	})
	r.MustRegister(Definition{
		Name:        "epic_list",
		Description: "List the epics of a project.",
		Params:      &projectIDParams{},
		Handler:     epicList,
	})
	r.MustRegister(Definition{
		Name:        "sprint_create",
		Description: "Create a sprint in a project. New sprints start inactive.",
		Params:      &sprintCreateParams{},
		Handler:     sprintCreate,
	})
	r.MustRegister(Definition{
		Name:        "sprint_list",
		Description: "List the sprints of a project.",
		Params:      &projectIDParams{},
		Handler:     sprintList,
	})
	r.MustRegister(Definition{
		Name:        "sprint_set_active",
		Description: "Make a sprint the active one for its project, deactivating the others.",
		Params:      &sprintIDParams{},
		Handler:     sprintSetActive,
	})
	r.MustRegister(Definition{
		Name:        "sprint_get_active",
		Description: "Get the active sprint of a project.",
		Params:      &projectIDParams{},
		Handler:     sprintGetActive,
	})
	r.MustRegister(Definition{
		Name:        "user_list",
		Description: "List all users.",
		Params:      nil,
		Handler:     userList,
	})
}

type taskCreateParams struct {
	ProjectID   int64  `json:"project_id" jsonschema:"description=Project the task belongs to"`
	Title       string `json:"title" jsonschema:"description=Short task title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Priority    string `json:"priority,omitempty"`
	EpicID      *int64 `json:"epic_id,omitempty"`
	SprintID    *int64 `json:"sprint_id,omitempty"`
	Estimate    *int   `json:"estimate,omitempty" jsonschema:"description=Effort estimate in points"`
	DueDate     string `json:"due_date,omitempty" jsonschema:"description=Due date as YYYY-MM-DD"`
}

type taskIDParams struct {
	TaskID int64 `json:"task_id"`
}

type taskUpdateParams struct {
	TaskID      int64   `json:"task_id"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	EpicID      *int64  `json:"epic_id,omitempty"`
	SprintID    *int64  `json:"sprint_id,omitempty"`
	Estimate    *int    `json:"estimate,omitempty"`
	DueDate     *string `json:"due_date,omitempty" jsonschema:"description=Due date as YYYY-MM-DD"`
}

type taskUpdateStatusParams struct {
	TaskID int64  `json:"task_id"`
	Status string `json:"status"`
}

type taskAssigneeParams struct {
	TaskID int64 `json:"task_id"`
	UserID int64 `json:"user_id" jsonschema:"description=User to assign or unassign"`
}

type taskListMyParams struct {
	Limit int `json:"limit,omitempty"`
}

type taskSearchParams struct {
	ProjectID int64  `json:"project_id"`
	Query     string `json:"query"`
	Limit     int    `json:"limit,omitempty"`
}

type projectIDParams struct {
	ProjectID int64 `json:"project_id"`
}

type projectCreateParams struct {
	Name        string `json:"name"`
	Key         string `json:"key,omitempty" jsonschema:"description=Short uppercase project key"`
	Description string `json:"description,omitempty"`
}

type projectListParams struct {
	Limit int `json:"limit,omitempty"`
}

type projectAddMemberParams struct {
	ProjectID int64  `json:"project_id"`
	UserID    int64  `json:"user_id" jsonschema:"description=User to add"`
	Role      string `json:"role,omitempty"`
}

type epicCreateParams struct {
	ProjectID   int64  `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type sprintCreateParams struct {
	ProjectID int64  `json:"project_id"`
	Name      string `json:"name"`
	StartsAt  string `json:"starts_at,omitempty" jsonschema:"description=Start date as YYYY-MM-DD"`
	EndsAt    string `json:"ends_at,omitempty" jsonschema:"description=End date as YYYY-MM-DD"`
}

type epicIDParams struct {
	EpicID int64 `json:"epic_id"`
}

type sprintIDParams struct {
	SprintID int64 `json:"sprint_id"`
}

func taskCreate(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p taskCreateParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}

	task := &models.Task{
		ProjectID:   p.ProjectID,
		EpicID:      p.EpicID,
		SprintID:    p.SprintID,
		Title:       p.Title,
		Description: p.Description,
		Status:      models.TaskStatus(p.Status),
		Priority:    models.Priority(p.Priority),
		Estimate:    p.Estimate,
	}
	if p.DueDate != "" {
		due, err := time.Parse(dueDateLayout, p.DueDate)
		if err != nil {
			return "", store.Servicef("due_date must be YYYY-MM-DD, got %q", p.DueDate)
		}
		task.DueDate = &due
	}
	if userID, ok := identity.UserFrom(ctx); ok {
		task.CreatorID = &userID
	}

	created, err := tx.CreateTask(ctx, task)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Task %d created: %s", created.ID, created.Title), nil
}

func taskGet(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p taskIDParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	task, err := tx.GetTask(ctx, p.TaskID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Task %d: %s | %s | %s", task.ID, task.Title, task.Status, task.Priority), nil
}

func taskUpdate(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p taskUpdateParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}

	patch := models.TaskPatch{
		Title:       p.Title,
		Description: p.Description,
		EpicID:      p.EpicID,
		SprintID:    p.SprintID,
		Estimate:    p.Estimate,
	}
	if p.Status != nil {
		status := models.TaskStatus(*p.Status)
		patch.Status = &status
	}
	if p.Priority != nil {
		priority := models.Priority(*p.Priority)
		patch.Priority = &priority
	}
	if p.DueDate != nil {
		due, err := time.Parse(dueDateLayout, *p.DueDate)
		if err != nil {
			return "", store.Servicef("due_date must be YYYY-MM-DD, got %q", *p.DueDate)
		}
		patch.DueDate = &due
	}

	task, err := tx.UpdateTask(ctx, p.TaskID, patch)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Task %d updated → %s", task.ID, task.Status), nil
}

func taskUpdateStatus(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p taskUpdateStatusParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	task, err := tx.UpdateTaskStatus(ctx, p.TaskID, models.TaskStatus(p.Status))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Task %d status set to %s.", task.ID, task.Status), nil
}

func taskDelete(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p taskIDParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	if err := tx.DeleteTask(ctx, p.TaskID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Task %d deleted.", p.TaskID), nil
}

func taskListMy(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p taskListMyParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	userID, ok := identity.UserFrom(ctx)
	if !ok {
		return "No tasks assigned to you.", nil
	}
	tasks, err := tx.ListTasksAssignedTo(ctx, userID)
	if err != nil {
		return "", err
	}
	if p.Limit > 0 && len(tasks) > p.Limit {
		tasks = tasks[:p.Limit]
	}
	if len(tasks) == 0 {
		return "No tasks assigned to you.", nil
	}
	var b strings.Builder
	for i, task := range tasks {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- [%d] %s (%s)", task.ID, task.Title, task.Status)
	}
	return b.String(), nil
}

func taskAssign(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p taskAssigneeParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	added, err := tx.AssignTask(ctx, p.TaskID, p.UserID)
	if err != nil {
		return "", err
	}
	if !added {
		return fmt.Sprintf("User %d is already assigned to task %d.", p.UserID, p.TaskID), nil
	}
	return fmt.Sprintf("User %d assigned to task %d.", p.UserID, p.TaskID), nil
}

func taskUnassign(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p taskAssigneeParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	if err := tx.UnassignTask(ctx, p.TaskID, p.UserID); err != nil {
		return "", err
	}
	return fmt.Sprintf("User %d unassigned from task %d.", p.UserID, p.TaskID), nil
}

func taskSearch(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p taskSearchParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	tasks, err := tx.SearchTasks(ctx, p.ProjectID, p.Query, p.Limit)
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return "No matching tasks.", nil
	}
	var b strings.Builder
	for i, task := range tasks {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- [%d] %s (%s)", task.ID, task.Title, task.Status)
	}
	return b.String(), nil
}

func taskCountByStatus(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p projectIDParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	counts, err := tx.CountTasksByStatus(ctx, p.ProjectID)
	if err != nil {
		return "", err
	}
	if len(counts) == 0 {
		return "No tasks.", nil
	}
	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		parts = append(parts, fmt.Sprintf("%s: %d", c.Status, c.Count))
	}
	return strings.Join(parts, ", "), nil
}

func taskListOverdue(ctx context.Context, tx *store.Tx, _ json.RawMessage) (string, error) {
	tasks, err := tx.ListOverdueTasks(ctx, time.Now())
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return "No overdue tasks.", nil
	}
	var b strings.Builder
	for i, task := range tasks {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- [%d] %s was due %s (%s)",
			task.ID, task.Title, task.DueDate.Format(dueDateLayout), task.Status)
	}
	return b.String(), nil
}

func projectCreate(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p projectCreateParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	var creatorID *int64
	if userID, ok := identity.UserFrom(ctx); ok {
		creatorID = &userID
	}
	project, err := tx.CreateProject(ctx, p.Key, p.Name, p.Description, creatorID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Project '%s' (ID: %d) created.", project.Name, project.ID), nil
}

func projectGet(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p projectIDParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	project, err := tx.GetProject(ctx, p.ProjectID)
	if err != nil {
		return "", err
	}
	key := project.Key
	if key == "" {
		key = "-"
	}
	return fmt.Sprintf("Project %d: %s | key: %s", project.ID, project.Name, key), nil
}

func projectList(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p projectListParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	userID, ok := identity.UserFrom(ctx)
	if !ok {
		return "No projects.", nil
	}
	projects, err := tx.ListProjects(ctx, userID)
	if err != nil {
		return "", err
	}
	if p.Limit > 0 && len(projects) > p.Limit {
		projects = projects[:p.Limit]
	}
	if len(projects) == 0 {
		return "No projects.", nil
	}
	var b strings.Builder
	for i, project := range projects {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- [%d] %s", project.ID, project.Name)
	}
	return b.String(), nil
}

func projectAddMember(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p projectAddMemberParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	role := p.Role
	if role == "" {
		role = "member"
	}
	if err := tx.AddProjectMember(ctx, p.ProjectID, p.UserID, role); err != nil {
		return "", err
	}
	return fmt.Sprintf("User %d added to project %d as %s.", p.UserID, p.ProjectID, role), nil
}

func projectMembersList(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p projectIDParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	members, err := tx.ListProjectMembers(ctx, p.ProjectID)
	if err != nil {
		return "", err
	}
	if len(members) == 0 {
		return "No members.", nil
	}
	var b strings.Builder
	for i, m := range members {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- [%d] %s <%s> (%s)", m.UserID, m.FullName, m.Email, m.Role)
	}
	return b.String(), nil
}

func epicCreate(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p epicCreateParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	epic, err := tx.CreateEpic(ctx, p.ProjectID, p.Name, p.Description)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Epic '%s' (ID: %d) created in project %d.", epic.Name, epic.ID, epic.ProjectID), nil
}

func epicGet(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p epicIDParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	epic, err := tx.GetEpic(ctx, p.EpicID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Epic %d: %s | project %d", epic.ID, epic.Name, epic.ProjectID), nil
}

func epicList(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p projectIDParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	epics, err := tx.ListEpics(ctx, p.ProjectID)
	if err != nil {
		return "", err
	}
	if len(epics) == 0 {
		return "No epics.", nil
	}
	var b strings.Builder
	for i, epic := range epics {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- [%d] %s", epic.ID, epic.Name)
	}
	return b.String(), nil
}

func sprintCreate(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p sprintCreateParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}

	startsAt := time.Now()
	if p.StartsAt != "" {
		parsed, err := time.Parse(dueDateLayout, p.StartsAt)
		if err != nil {
			return "", store.Servicef("starts_at must be YYYY-MM-DD, got %q", p.StartsAt)
		}
		startsAt = parsed
	}
	endsAt := startsAt.AddDate(0, 0, 14)
	if p.EndsAt != "" {
		parsed, err := time.Parse(dueDateLayout, p.EndsAt)
		if err != nil {
			return "", store.Servicef("ends_at must be YYYY-MM-DD, got %q", p.EndsAt)
		}
		endsAt = parsed
	}

	sprint, err := tx.CreateSprint(ctx, p.ProjectID, p.Name, startsAt, endsAt)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Sprint '%s' (ID: %d) created in project %d.", sprint.Name, sprint.ID, sprint.ProjectID), nil
}

func sprintList(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p projectIDParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	sprints, err := tx.ListSprints(ctx, p.ProjectID)
	if err != nil {
		return "", err
	}
	if len(sprints) == 0 {
		return "No sprints.", nil
	}
	var b strings.Builder
	for i, sprint := range sprints {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- [%d] %s (%s to %s)", sprint.ID, sprint.Name,
			sprint.StartsAt.Format(dueDateLayout), sprint.EndsAt.Format(dueDateLayout))
		if sprint.IsActive {
			b.WriteString(" [active]")
		}
	}
	return b.String(), nil
}

func sprintSetActive(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p sprintIDParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	sprint, err := tx.SetActiveSprint(ctx, p.SprintID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Sprint '%s' (ID: %d) is now active in project %d.", sprint.Name, sprint.ID, sprint.ProjectID), nil
}

func sprintGetActive(ctx context.Context, tx *store.Tx, args json.RawMessage) (string, error) {
	var p projectIDParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	sprint, err := tx.GetActiveSprint(ctx, p.ProjectID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Active sprint of project %d: '%s' (ID: %d), %s to %s.",
		sprint.ProjectID, sprint.Name, sprint.ID,
		sprint.StartsAt.Format(dueDateLayout), sprint.EndsAt.Format(dueDateLayout)), nil
}

func userList(ctx context.Context, tx *store.Tx, _ json.RawMessage) (string, error) {
	users, err := tx.ListUsers(ctx)
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "No users.", nil
	}
	var b strings.Builder
	for i, user := range users {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- [%d] %s <%s>", user.ID, user.FullName, user.Email)
	}
	return b.String(), nil
}
