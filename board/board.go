package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"planit/domain"
	"planit/graph"
	"planit/notify"
	"planit/storage"
)

// Options tune a Board. Zero values select the defaults.
type Options struct {
	Retry  RetryPolicy
	Layout graph.Layout
	Logger *log.Logger
	Now    func() time.Time
}

// Board keeps the task graph of the current user, project and date in sync
// with the store. Local interaction never waits for remote acknowledgement;
// the engine's position cache bridges the gap.
type Board struct {
	store    storage.Store
	identity Identity
	projects *Projects
	notifier notify.Emitter
	retry    RetryPolicy
	layout   graph.Layout
	logger   *log.Logger
	now      func() time.Time
	updates  *broker
	pending  sync.WaitGroup

	mu         sync.Mutex
	engine     *Engine
	date       string
	editing    string
	base       context.Context
	generation int
	cancelSub  context.CancelFunc
}

func New(store storage.Store, identity Identity, projects *Projects, notifier notify.Emitter, opts Options) *Board {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy
	}
	if opts.Layout.GridSize == 0 {
		opts.Layout = graph.DefaultLayout
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Board{
		store:    store,
		identity: identity,
		projects: projects,
		notifier: notifier,
		retry:    opts.Retry,
		layout:   opts.Layout,
		logger:   opts.Logger,
		now:      opts.Now,
		updates:  newBroker(),
		engine:   NewEngine(opts.Layout),
		date:     domain.DateKey(opts.Now()),
	}
}

// Open starts following the current project and date until Close or until
// ctx is done.
func (b *Board) Open(ctx context.Context) {
	b.mu.Lock()
	b.base = ctx
	b.mu.Unlock()
	b.projects.OnSwitch(func(domain.Project, bool) { b.resubscribe() })
	b.resubscribe()
}

// Close tears down the subscription. In-flight writes keep running; use
// Flush to wait for them.
func (b *Board) Close() {
	b.mu.Lock()
	if b.cancelSub != nil {
		b.cancelSub()
		b.cancelSub = nil
	}
	b.base = nil
	b.generation++
	b.mu.Unlock()
}

// Flush waits for background position writes to finish.
func (b *Board) Flush() {
	b.pending.Wait()
}

// Subscribe returns a channel signalled after every view change.
func (b *Board) Subscribe() (<-chan struct{}, func()) {
	ch := b.updates.subscribe()
	return ch, func() { b.updates.unsubscribe(ch) }
}

func (b *Board) View() graph.View {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.engine.View()
}

func (b *Board) Tasks() []domain.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.engine.Tasks()
}

func (b *Board) DateKey() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.date
}

// Editing returns the id of the task being edited, if any.
func (b *Board) Editing() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.editing
}

// BeginEdit marks a task as being edited.
func (b *Board) BeginEdit(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.engine.Task(id); !ok {
		return fmt.Errorf("edit %s: %w", id, ErrTaskNotFound)
	}
	b.editing = id
	return nil
}

// SelectDate switches the calendar day whose tasks are shown.
func (b *Board) SelectDate(t time.Time) {
	key := domain.DateKey(t)
	b.mu.Lock()
	if key == b.date {
		b.mu.Unlock()
		return
	}
	b.date = key
	b.mu.Unlock()
	b.resubscribe()
}

// resubscribe drops the current scope's state and follows the new one.
func (b *Board) resubscribe() {
	b.mu.Lock()
	if b.cancelSub != nil {
		b.cancelSub()
		b.cancelSub = nil
	}
	b.generation++
	gen := b.generation
	b.engine.Reset()
	b.editing = ""
	base := b.base
	date := b.date
	b.mu.Unlock()
	b.updates.notify()

	if base == nil {
		return
	}
	user, project, ok := b.scope()
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(base)
	b.mu.Lock()
	if gen != b.generation {
		b.mu.Unlock()
		cancel()
		return
	}
	b.cancelSub = cancel
	b.mu.Unlock()

	ch := b.store.Subscribe(ctx, domain.TodosPath(user.ID, project.ID), storage.Filter{Field: domain.FieldDateKey, Value: date})
	go b.follow(ctx, gen, ch)
}

func (b *Board) follow(ctx context.Context, gen int, ch <-chan storage.Snapshot) {
	for snap := range ch {
		b.mu.Lock()
		stale := gen != b.generation
		b.mu.Unlock()
		if stale {
			return
		}
		if snap.Err != nil {
			b.logger.WithError(snap.Err).Error("error fetching todos")
			b.notifier.Emit(ctx, notify.Notification{Type: notify.Error, Title: "Failed to load todos", Message: snap.Err.Error()})
			continue
		}
		tasks := make([]domain.Task, 0, len(snap.Docs))
		for _, d := range snap.Docs {
			tasks = append(tasks, domain.TaskFromDocument(d.ID, d.Fields))
		}
		b.mu.Lock()
		if gen != b.generation {
			b.mu.Unlock()
			return
		}
		b.engine.ApplySnapshot(tasks)
		b.mu.Unlock()
		b.updates.notify()
	}
}

func (b *Board) scope() (domain.User, domain.Project, bool) {
	user, ok := b.identity.CurrentUser()
	if !ok {
		return domain.User{}, domain.Project{}, false
	}
	project, ok := b.projects.Current()
	if !ok {
		return domain.User{}, domain.Project{}, false
	}
	return user, project, true
}

func taskPath(user domain.User, project domain.Project, id string) string {
	return domain.DocPath(domain.TodosPath(user.ID, project.ID), id)
}

// ApplyNodeChanges applies renderer moves to the cache. Released drags are
// persisted in the background with the board's retry policy.
func (b *Board) ApplyNodeChanges(ctx context.Context, changes []graph.NodeChange) {
	b.mu.Lock()
	released := b.engine.ApplyNodeChanges(changes)
	b.mu.Unlock()
	b.updates.notify()

	if len(released) == 0 {
		return
	}
	user, project, ok := b.scope()
	if !ok {
		return
	}
	for _, r := range released {
		b.persistPosition(context.WithoutCancel(ctx), taskPath(user, project, r.ID), r)
	}
}

func (b *Board) persistPosition(ctx context.Context, path string, r Release) {
	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		fields := map[string]any{domain.FieldPosition: domain.PositionValue(r.Position)}
		op := func() error {
			return b.store.Update(ctx, path, fields)
		}
		retrying := func(err error, next time.Duration) {
			b.logger.WithError(err).WithFields(log.Fields{
				"task":  r.ID,
				"retry": next.String(),
			}).Warn("error updating position")
		}
		if err := backoff.RetryNotify(op, b.retry.BackOff(ctx), retrying); err != nil {
			b.fail(ctx, "Failed to save position", err)
			return
		}
		b.logger.WithFields(log.Fields{"task": r.ID, "x": r.Position.X, "y": r.Position.Y}).Debug("position updated")
	}()
}

// Create adds a task at a free slot near the draft's preferred position.
// Without a current project the default project is created first.
func (b *Board) Create(ctx context.Context, d domain.TaskDraft) (string, error) {
	user, ok := b.identity.CurrentUser()
	if !ok {
		return "", nil
	}
	project, ok := b.projects.Current()
	if !ok {
		p, err := b.projects.Create(ctx, domain.DefaultProjectName)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrNoProject, err)
		}
		project = p
	}

	b.mu.Lock()
	pos := b.layout.Allocate(b.engine.Occupied(), d.Position)
	dateKey := b.date
	b.mu.Unlock()

	fields := domain.NewTaskFields(d, pos, dateKey, b.now())
	id, err := b.store.Create(ctx, domain.TodosPath(user.ID, project.ID), fields)
	if err != nil {
		b.fail(ctx, "Failed to create task", err)
		return "", err
	}

	b.mu.Lock()
	b.engine.Track(id, pos)
	b.mu.Unlock()
	b.updates.notify()

	b.succeed(ctx, notify.Success, "Task Created", fmt.Sprintf("%s has been created successfully", d.Title))
	return id, nil
}

// Update writes edited fields, always carrying the resolved position, and
// ends editing.
func (b *Board) Update(ctx context.Context, edit domain.TaskEdit) error {
	user, project, ok := b.scope()
	if !ok {
		return nil
	}
	b.mu.Lock()
	pos, havePos := b.engine.Resolve(edit.ID)
	task, known := b.engine.Task(edit.ID)
	b.mu.Unlock()
	if !known {
		return fmt.Errorf("update %s: %w", edit.ID, ErrTaskNotFound)
	}
	if !havePos && edit.Position != nil {
		pos, havePos = *edit.Position, true
	}

	priority := domain.ParsePriority(string(edit.Priority))
	fields := map[string]any{
		domain.FieldTitle:       edit.Title,
		domain.FieldDescription: edit.Description,
		domain.FieldPriority:    string(priority),
	}
	if havePos {
		fields[domain.FieldPosition] = domain.PositionValue(pos)
	}
	if err := b.store.Update(ctx, taskPath(user, project, edit.ID), fields); err != nil {
		b.fail(ctx, "Failed to update task", err)
		return err
	}

	b.mu.Lock()
	if havePos {
		b.engine.Track(edit.ID, pos)
	}
	task.Title = edit.Title
	task.Description = edit.Description
	task.Priority = priority
	b.engine.Patch(task)
	b.editing = ""
	b.mu.Unlock()
	b.updates.notify()

	b.succeed(ctx, notify.Success, "Task Updated", fmt.Sprintf("%s has been updated successfully", edit.Title))
	return nil
}

// ToggleComplete flips a task between open and completed.
func (b *Board) ToggleComplete(ctx context.Context, id string) error {
	user, project, ok := b.scope()
	if !ok {
		return nil
	}
	b.mu.Lock()
	task, known := b.engine.Task(id)
	pos, _ := b.engine.Resolve(id)
	b.mu.Unlock()
	if !known {
		return fmt.Errorf("toggle %s: %w", id, ErrTaskNotFound)
	}

	fields := map[string]any{
		domain.FieldCompleted: !task.Completed,
		domain.FieldPosition:  domain.PositionValue(pos),
	}
	if err := b.store.Update(ctx, taskPath(user, project, id), fields); err != nil {
		b.fail(ctx, "Failed to update task", err)
		return err
	}

	b.mu.Lock()
	b.engine.Track(id, pos)
	patched := task
	patched.Completed = !task.Completed
	b.engine.Patch(patched)
	b.mu.Unlock()
	b.updates.notify()

	if task.Completed {
		b.succeed(ctx, notify.Success, "Task Reopened", fmt.Sprintf("%s has been marked as incomplete", task.Title))
	} else {
		b.succeed(ctx, notify.Success, "Task Completed", fmt.Sprintf("%s has been completed", task.Title))
	}
	return nil
}

// Delete removes a task and strips it from every dependency list that
// references it.
func (b *Board) Delete(ctx context.Context, id string) error {
	user, project, ok := b.scope()
	if !ok {
		return nil
	}
	b.mu.Lock()
	task, known := b.engine.Task(id)
	b.mu.Unlock()
	if !known {
		return fmt.Errorf("delete %s: %w", id, ErrTaskNotFound)
	}

	if err := b.store.Delete(ctx, taskPath(user, project, id)); err != nil {
		b.fail(ctx, "Failed to delete task", err)
		return err
	}

	type cleanup struct {
		task domain.Task
		pos  domain.Position
		ok   bool
	}
	b.mu.Lock()
	b.engine.Forget(id)
	var dependents []cleanup
	for _, t := range b.engine.Dependents(id) {
		pos, ok := b.engine.Resolve(t.ID)
		dependents = append(dependents, cleanup{task: t, pos: pos, ok: ok})
	}
	b.mu.Unlock()
	b.updates.notify()

	var errs []error
	for _, dep := range dependents {
		deps := dep.task.DependenciesWithout(id)
		fields := map[string]any{domain.FieldDependencies: deps}
		if dep.ok {
			fields[domain.FieldPosition] = domain.PositionValue(dep.pos)
		}
		if err := b.store.Update(ctx, taskPath(user, project, dep.task.ID), fields); err != nil {
			errs = append(errs, err)
			continue
		}
		b.mu.Lock()
		if dep.ok {
			b.engine.Track(dep.task.ID, dep.pos)
		}
		patched := dep.task
		patched.Dependencies = deps
		b.engine.Patch(patched)
		b.mu.Unlock()
	}
	if err := errors.Join(errs...); err != nil {
		b.fail(ctx, "Failed to delete task", err)
		return err
	}
	b.updates.notify()

	b.succeed(ctx, notify.Info, "Task Deleted", fmt.Sprintf("%s has been deleted successfully", task.Title))
	return nil
}

// Connect makes source a dependency of target.
func (b *Board) Connect(ctx context.Context, c graph.Connection) error {
	user, project, ok := b.scope()
	if !ok || c.Source == "" || c.Target == "" {
		return nil
	}
	if c.Source == c.Target {
		b.notifier.Emit(ctx, notify.Notification{Type: notify.Error, Title: "Cannot connect a task to itself", Visibility: notify.Toast})
		return ErrSelfDependency
	}
	b.mu.Lock()
	target, known := b.engine.Task(c.Target)
	pos, _ := b.engine.Resolve(c.Target)
	b.mu.Unlock()
	if !known {
		return fmt.Errorf("connect to %s: %w", c.Target, ErrTaskNotFound)
	}
	if target.DependsOn(c.Source) {
		b.notifier.Emit(ctx, notify.Notification{Type: notify.Info, Title: "Dependency already exists", Visibility: notify.Toast})
		return nil
	}

	deps := append(append([]string{}, target.Dependencies...), c.Source)
	fields := map[string]any{
		domain.FieldDependencies: deps,
		domain.FieldPosition:     domain.PositionValue(pos),
	}
	if err := b.store.Update(ctx, taskPath(user, project, c.Target), fields); err != nil {
		b.fail(ctx, "Failed to add dependency", err)
		return err
	}

	b.mu.Lock()
	b.engine.Track(c.Target, pos)
	target.Dependencies = deps
	b.engine.Patch(target)
	b.mu.Unlock()
	b.updates.notify()

	b.succeed(ctx, notify.Success, "Dependency Added", "Task dependency has been created successfully")
	return nil
}

// ApplyEdgeChanges turns removed edges into dependency removals.
func (b *Board) ApplyEdgeChanges(ctx context.Context, changes []graph.EdgeChange) error {
	user, project, ok := b.scope()
	if !ok {
		return nil
	}
	var errs []error
	for _, c := range changes {
		if c.Type != graph.ChangeRemove {
			continue
		}
		b.mu.Lock()
		source, targetID, parsed := graph.ParseEdgeID(c.ID, b.engine.Tasks())
		target, known := b.engine.Task(targetID)
		pos, _ := b.engine.Resolve(targetID)
		b.mu.Unlock()
		if !parsed || !known {
			continue
		}

		deps := target.DependenciesWithout(source)
		fields := map[string]any{
			domain.FieldDependencies: deps,
			domain.FieldPosition:     domain.PositionValue(pos),
		}
		if err := b.store.Update(ctx, taskPath(user, project, targetID), fields); err != nil {
			b.fail(ctx, "Failed to remove dependency", err)
			errs = append(errs, err)
			continue
		}

		b.mu.Lock()
		b.engine.Track(targetID, pos)
		target.Dependencies = deps
		b.engine.Patch(target)
		b.mu.Unlock()
		b.updates.notify()

		b.succeed(ctx, notify.Info, "Dependency Removed", "Task dependency has been removed successfully")
	}
	return errors.Join(errs...)
}

func (b *Board) succeed(ctx context.Context, typ notify.Type, title, message string) {
	b.notifier.Emit(ctx, notify.Notification{Type: typ, Title: title, Message: message, Visibility: notify.Toast})
}

func (b *Board) fail(ctx context.Context, title string, err error) {
	b.logger.WithError(err).Error(title)
	b.notifier.Emit(ctx, notify.Notification{Type: notify.Error, Title: title, Message: err.Error(), Visibility: notify.Toast})
}
