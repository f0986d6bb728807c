package project

// Project is a production whose artifacts are tracked against the template
// catalogue. EpisodesPlanned bounds the valid episode numbers.
type Project struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	EpisodesPlanned int    `json:"episodes_planned"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

// CreateProjectInput holds the parameters for creating a new project.
type CreateProjectInput struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	EpisodesPlanned int    `json:"episodes_planned"`
}

// ListOptions pages through projects, newest first.
type ListOptions struct {
	Limit  int
	Offset int
}
