package board

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"planit/domain"
	"planit/notify"
	"planit/storage"
)

// Identity exposes the signed in user, if any.
type Identity interface {
	CurrentUser() (domain.User, bool)
}

// SwitchFunc is called whenever the current project changes. ok is false
// when no project is selected any more.
type SwitchFunc func(p domain.Project, ok bool)

// Projects tracks a user's projects and which one is current.
type Projects struct {
	store    storage.Store
	identity Identity
	notifier notify.Emitter
	logger   *log.Logger
	now      func() time.Time

	mu        sync.Mutex
	projects  []domain.Project
	current   *domain.Project
	listeners []SwitchFunc
}

func NewProjects(store storage.Store, identity Identity, notifier notify.Emitter, logger *log.Logger) *Projects {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Projects{store: store, identity: identity, notifier: notifier, logger: logger, now: time.Now}
}

// OnSwitch registers fn to be called after every change of the current project.
func (p *Projects) OnSwitch(fn SwitchFunc) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// Watch follows the user's project collection until ctx is done. The first
// project becomes current when none is selected.
func (p *Projects) Watch(ctx context.Context) {
	user, ok := p.identity.CurrentUser()
	if !ok {
		return
	}
	ch := p.store.Subscribe(ctx, domain.ProjectsPath(user.ID))
	go func() {
		for snap := range ch {
			if snap.Err != nil {
				p.logger.WithError(snap.Err).WithField("user", user.ID).Error("error fetching projects")
				continue
			}
			list := make([]domain.Project, 0, len(snap.Docs))
			for _, d := range snap.Docs {
				list = append(list, domain.ProjectFromDocument(d.ID, d.Fields))
			}
			p.apply(list)
		}
	}()
}

func (p *Projects) apply(list []domain.Project) {
	sortProjects(list)
	p.mu.Lock()
	p.projects = list
	switched := false
	if p.current == nil && len(list) > 0 {
		first := list[0]
		p.current = &first
		switched = true
	} else if p.current != nil {
		for _, pr := range list {
			if pr.ID == p.current.ID {
				cur := pr
				p.current = &cur
			}
		}
	}
	p.mu.Unlock()
	if switched {
		p.fire()
	}
}

func sortProjects(list []domain.Project) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Order != list[j].Order {
			return list[i].Order < list[j].Order
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

// Current returns the selected project.
func (p *Projects) Current() (domain.Project, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return domain.Project{}, false
	}
	return *p.current, true
}

// List returns the known projects in display order.
func (p *Projects) List() []domain.Project {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Project{}, p.projects...)
}

// Switch makes the project with the given id current.
func (p *Projects) Switch(id string) error {
	p.mu.Lock()
	var found *domain.Project
	for _, pr := range p.projects {
		if pr.ID == id {
			cur := pr
			found = &cur
		}
	}
	if found == nil {
		p.mu.Unlock()
		return fmt.Errorf("switch to %s: %w", id, ErrProjectNotFound)
	}
	if p.current != nil && p.current.ID == id {
		p.mu.Unlock()
		return nil
	}
	p.current = found
	p.mu.Unlock()
	p.fire()
	return nil
}

// Create persists a project and makes it current.
func (p *Projects) Create(ctx context.Context, name string) (domain.Project, error) {
	user, ok := p.identity.CurrentUser()
	if !ok {
		return domain.Project{}, ErrNoIdentity
	}
	p.mu.Lock()
	order := len(p.projects)
	p.mu.Unlock()

	now := p.now().UTC()
	id, err := p.store.Create(ctx, domain.ProjectsPath(user.ID), map[string]any{
		domain.FieldName:      name,
		domain.FieldCreatedAt: now,
		domain.FieldOrder:     order,
	})
	if err != nil {
		p.logger.WithError(err).WithField("user", user.ID).Error("error creating project")
		p.emit(ctx, notify.Error, "Error", "Project could not be created.")
		return domain.Project{}, err
	}
	project := domain.Project{ID: id, Name: name, CreatedAt: now, Order: order}

	p.mu.Lock()
	if !containsProject(p.projects, id) {
		p.projects = append(p.projects, project)
		sortProjects(p.projects)
	}
	changed := p.current == nil || p.current.ID != id
	p.current = &project
	p.mu.Unlock()
	if changed {
		p.fire()
	}

	p.emit(ctx, notify.Success, "Project Created", fmt.Sprintf("New project %q was created.", name))
	return project, nil
}

// Rename changes a project's name.
func (p *Projects) Rename(ctx context.Context, id, name string) error {
	user, ok := p.identity.CurrentUser()
	if !ok {
		return nil
	}
	err := p.store.Update(ctx, domain.DocPath(domain.ProjectsPath(user.ID), id), map[string]any{domain.FieldName: name})
	if err != nil {
		p.logger.WithError(err).WithField("project", id).Error("error updating project")
		p.emit(ctx, notify.Error, "Error", "Project could not be updated.")
		return err
	}
	p.mu.Lock()
	for i := range p.projects {
		if p.projects[i].ID == id {
			p.projects[i].Name = name
		}
	}
	if p.current != nil && p.current.ID == id {
		p.current.Name = name
	}
	p.mu.Unlock()
	p.emit(ctx, notify.Success, "Project Updated", fmt.Sprintf("Project name was changed to %q.", name))
	return nil
}

// Delete removes a project. When it was current the first remaining project
// takes over, or none.
func (p *Projects) Delete(ctx context.Context, id string) error {
	user, ok := p.identity.CurrentUser()
	if !ok {
		return nil
	}
	if err := p.store.Delete(ctx, domain.DocPath(domain.ProjectsPath(user.ID), id)); err != nil {
		p.logger.WithError(err).WithField("project", id).Error("error deleting project")
		p.emit(ctx, notify.Error, "Error", "Project could not be deleted.")
		return err
	}

	p.mu.Lock()
	var name string
	remaining := make([]domain.Project, 0, len(p.projects))
	for _, pr := range p.projects {
		if pr.ID == id {
			name = pr.Name
			continue
		}
		remaining = append(remaining, pr)
	}
	p.projects = remaining
	switched := false
	if p.current != nil && p.current.ID == id {
		switched = true
		p.current = nil
		if len(remaining) > 0 {
			first := remaining[0]
			p.current = &first
		}
	}
	p.mu.Unlock()
	if switched {
		p.fire()
	}

	p.emit(ctx, notify.Warning, "Project Deleted", fmt.Sprintf("Project %q was deleted.", name))
	return nil
}

// Reorder stores each project's index in ids as its order.
func (p *Projects) Reorder(ctx context.Context, ids []string) error {
	user, ok := p.identity.CurrentUser()
	if !ok {
		return nil
	}
	var errs []error
	for i, id := range ids {
		err := p.store.Update(ctx, domain.DocPath(domain.ProjectsPath(user.ID), id), map[string]any{domain.FieldOrder: i})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.mu.Lock()
		for j := range p.projects {
			if p.projects[j].ID == id {
				p.projects[j].Order = i
			}
		}
		p.mu.Unlock()
	}
	p.mu.Lock()
	sortProjects(p.projects)
	p.mu.Unlock()
	if err := errors.Join(errs...); err != nil {
		p.logger.WithError(err).WithField("user", user.ID).Error("error reordering projects")
		return err
	}
	return nil
}

func (p *Projects) fire() {
	p.mu.Lock()
	listeners := append([]SwitchFunc{}, p.listeners...)
	var cur domain.Project
	ok := p.current != nil
	if ok {
		cur = *p.current
	}
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(cur, ok)
	}
}

func (p *Projects) emit(ctx context.Context, typ notify.Type, title, message string) {
	p.notifier.Emit(ctx, notify.Notification{Type: typ, Title: title, Message: message, Visibility: notify.Both})
}

func containsProject(list []domain.Project, id string) bool {
	for _, pr := range list {
		if pr.ID == id {
			return true
		}
	}
	return false
}
