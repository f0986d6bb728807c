package api

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/studio-agent/internal/artifact"
	"github.com/p-blackswan/studio-agent/internal/catalog"
	serrors "github.com/p-blackswan/studio-agent/internal/errors"
	"github.com/p-blackswan/studio-agent/internal/project"
	"github.com/p-blackswan/studio-agent/internal/search"
)

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func items[T any](v []T) listResponse[T] {
	if v == nil {
		v = []T{}
	}
	return listResponse[T]{Items: v}
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return serrors.Invalid("body", err.Error())
	}
	return nil
}

// getCatalog handles GET /api/catalog.
func (s *Server) getCatalog(c *fiber.Ctx) error {
	return c.JSON(items(catalog.All()))
}

// createProject handles POST /api/projects.
func (s *Server) createProject(c *fiber.Ctx) error {
	var in project.CreateProjectInput
	if err := parseBody(c, &in); err != nil {
		return err
	}
	p, err := s.deps.Projects.CreateProject(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

// listProjects handles GET /api/projects.
func (s *Server) listProjects(c *fiber.Ctx) error {
	list, err := s.deps.Projects.ListProjects(c.UserContext(), project.ListOptions{
		Limit:  c.QueryInt("limit", 50),
		Offset: c.QueryInt("offset", 0),
	})
	if err != nil {
		return err
	}
	return c.JSON(items(list))
}

// getProject handles GET /api/projects/:id.
func (s *Server) getProject(c *fiber.Ctx) error {
	p, err := s.deps.Projects.GetProject(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(p)
}

// listArtifacts handles GET /api/projects/:id/artifacts.
func (s *Server) listArtifacts(c *fiber.Ctx) error {
	f := artifact.ListFilter{
		TemplateCode: catalog.Code(c.Query("template_code")),
		Limit:        c.QueryInt("limit", 0),
		Offset:       c.QueryInt("offset", 0),
	}
	if raw := c.Query("episode"); raw != "" {
		ep := c.QueryInt("episode", 0)
		if ep < 1 {
			return serrors.Invalid("episode", "must be a positive integer")
		}
		f.Episode = &ep
	}
	list, err := s.deps.Artifacts.List(c.UserContext(), c.Params("id"), f)
	if err != nil {
		return err
	}
	return c.JSON(items(list))
}

type saveArtifactRequest struct {
	TemplateCode string `json:"template_code"`
	Episode      *int   `json:"episode"`
	Content      string `json:"content"`
	ContentType  string `json:"content_type"`
	CreatedBy    string `json:"created_by"`
	Status       string `json:"status"`
}

// saveArtifact handles POST /api/projects/:id/artifacts.
func (s *Server) saveArtifact(c *fiber.Ctx) error {
	var req saveArtifactRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.CreatedBy) == "" {
		return serrors.Invalid("created_by", "must not be empty")
	}

	ctx := c.UserContext()
	a, err := s.deps.Artifacts.Save(ctx, artifact.SaveInput{
		ProjectID:    c.Params("id"),
		TemplateCode: catalog.Code(req.TemplateCode),
		Episode:      req.Episode,
		Data:         []byte(req.Content),
		ContentType:  req.ContentType,
		CreatedBy:    req.CreatedBy,
		Status:       artifact.Status(req.Status),
	})
	if err != nil {
		return err
	}

	if s.deps.Index != nil && strings.HasPrefix(a.ContentType, "text/") {
		s.deps.Index.Add(ctx, search.Document{ID: a.ID, Scope: a.ProjectID, Text: req.Content})
	}
	return c.Status(fiber.StatusCreated).JSON(a)
}

// projectProgress handles GET /api/projects/:id/progress.
func (s *Server) projectProgress(c *fiber.Ctx) error {
	summary, err := s.deps.Progress.Summarize(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(summary)
}

// searchProject handles GET /api/projects/:id/search.
func (s *Server) searchProject(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		return serrors.Invalid("q", "must not be empty")
	}
	if _, err := s.deps.Projects.GetProject(ctx, id); err != nil {
		return err
	}
	if s.deps.Index == nil {
		return c.JSON(items([]search.Result(nil)))
	}
	hits := s.deps.Index.Search(ctx, search.Query{Text: q, Scope: id, TopK: c.QueryInt("top_k", search.DefaultTopK)})
	return c.JSON(items(hits))
}

// getArtifact handles GET /api/artifacts/:id.
func (s *Server) getArtifact(c *fiber.Ctx) error {
	a, err := s.deps.Artifacts.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(a)
}

// artifactContent handles GET /api/artifacts/:id/content.
func (s *Server) artifactContent(c *fiber.Ctx) error {
	a, data, err := s.deps.Artifacts.Content(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, a.ContentType)
	c.Set("X-Artifact-Version", strconv.Itoa(a.Version))
	return c.Send(data)
}
