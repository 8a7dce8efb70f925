package domain

type User struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Role      Role    `json:"role" enum:"admin,project_manager,developer,viewer"`
	IsActive  bool    `json:"is_active"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

// UserBrief is the embedded user shape used in issue, comment and member payloads.
type UserBrief struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

type Project struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Key          string `json:"key"`
	Description  string `json:"description,omitempty"`
	Methodology  string `json:"methodology" enum:"kanban,scrum"`
	OwnerID      string `json:"owner_id"`
	IssueCounter int    `json:"issue_counter"`
	MemberCount  int    `json:"member_count"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type Member struct {
	ProjectID string    `json:"project_id"`
	User      UserBrief `json:"user"`
	Role      Role      `json:"role" enum:"admin,project_manager,developer,viewer"`
	JoinedAt  string    `json:"joined_at" format:"date-time"`
}

type StatusCategory string

const (
	CategoryTodo       StatusCategory = "todo"
	CategoryInProgress StatusCategory = "in_progress"
	CategoryDone       StatusCategory = "done"
)

func (c StatusCategory) Valid() bool {
	switch c {
	case CategoryTodo, CategoryInProgress, CategoryDone:
		return true
	}
	return false
}

type WorkflowStatus struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Name      string         `json:"name"`
	Category  StatusCategory `json:"category" enum:"todo,in_progress,done"`
	Position  int            `json:"position"`
}

type Label struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
}

type Issue struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id"`
	Key         string         `json:"key"`
	Type        IssueType      `json:"type" enum:"epic,story,task,bug,subtask"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Status      WorkflowStatus `json:"status"`
	Priority    Priority       `json:"priority" enum:"critical,high,medium,low"`
	AssigneeID  *string        `json:"assignee_id,omitempty"`
	ReporterID  string         `json:"reporter_id"`
	SprintID    *string        `json:"sprint_id,omitempty"`
	ParentID    *string        `json:"parent_id,omitempty"`
	StoryPoints *int           `json:"story_points,omitempty"`
	DueDate     *string        `json:"due_date,omitempty" format:"date"`
	Position    int            `json:"position"`
	Labels      []Label        `json:"labels"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	UpdatedAt   string         `json:"updated_at" format:"date-time"`
}

type IssueRelation struct {
	ID            string       `json:"id"`
	SourceIssueID string       `json:"source_issue_id"`
	TargetIssueID string       `json:"target_issue_id"`
	Type          RelationType `json:"type" enum:"blocks,is_blocked_by,relates_to"`
	CreatedAt     string       `json:"created_at" format:"date-time"`
}

type RelationType string

const (
	RelationBlocks      RelationType = "blocks"
	RelationIsBlockedBy RelationType = "is_blocked_by"
	RelationRelatesTo   RelationType = "relates_to"
)

func (t RelationType) Valid() bool {
	switch t {
	case RelationBlocks, RelationIsBlockedBy, RelationRelatesTo:
		return true
	}
	return false
}

type Sprint struct {
	ID         string       `json:"id"`
	ProjectID  string       `json:"project_id"`
	Name       string       `json:"name"`
	Goal       string       `json:"goal,omitempty"`
	StartDate  *string      `json:"start_date,omitempty" format:"date"`
	EndDate    *string      `json:"end_date,omitempty" format:"date"`
	Status     SprintStatus `json:"status" enum:"planning,active,completed"`
	IssueCount int          `json:"issue_count"`
	CreatedAt  string       `json:"created_at" format:"date-time"`
	UpdatedAt  string       `json:"updated_at" format:"date-time"`
}

type Comment struct {
	ID        string    `json:"id"`
	IssueID   string    `json:"issue_id"`
	Author    UserBrief `json:"author"`
	Content   string    `json:"content"`
	CreatedAt string    `json:"created_at" format:"date-time"`
	UpdatedAt string    `json:"updated_at" format:"date-time"`
}

type Attachment struct {
	ID        string    `json:"id"`
	IssueID   string    `json:"issue_id"`
	Uploader  UserBrief `json:"uploader"`
	Filename  string    `json:"filename"`
	Path      string    `json:"-"`
	Size      int64     `json:"size"`
	MimeType  string    `json:"mime_type"`
	URL       string    `json:"url"`
	CreatedAt string    `json:"created_at" format:"date-time"`
}

type NotificationType string

const (
	NotifyAssigned      NotificationType = "assigned"
	NotifyMentioned     NotificationType = "mentioned"
	NotifyStatusChanged NotificationType = "status_changed"
	NotifyCommented     NotificationType = "commented"
)

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	IssueID   *string          `json:"issue_id,omitempty"`
	Type      NotificationType `json:"type" enum:"assigned,mentioned,status_changed,commented"`
	Title     string           `json:"title"`
	Body      *string          `json:"body,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt string           `json:"created_at" format:"date-time"`
}

type SavedFilter struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	ProjectID string         `json:"project_id"`
	Name      string         `json:"name"`
	Filters   map[string]any `json:"filters"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}

type APIKey struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	Name      string  `json:"name"`
	KeyHash   string  `json:"-"`
	LastUsed  *string `json:"last_used_at,omitempty"`
	CreatedAt string  `json:"created_at"`
}
