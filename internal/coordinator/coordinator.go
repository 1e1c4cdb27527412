// Package coordinator implements the single-writer actor that serializes
// every mutation to the item store and every commit to the content
// repository, behind a typed, bounded command channel. Grounded on the
// teacher's internal/task/state.go (the thing being serialized) and
// internal/git/client.go (the repo side), combined into the actor shape
// spec §4.1 describes -- the teacher itself has no single actor gluing
// both, so the command-channel/reply-channel wiring is grounded instead on
// internal/workflow/events.go's functional, non-blocking-emit style.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sirhamy/phase-golem/internal/gitrepo"
	"github.com/sirhamy/phase-golem/internal/item"
	"github.com/sirhamy/phase-golem/internal/store"
	"github.com/sirhamy/phase-golem/internal/worklog"
)

const (
	maxLockAttempts = 3
	lockBackoff     = time.Second
)

// pendingCommit is one accumulated non-destructive phase completion awaiting
// the next BatchCommit.
type pendingCommit struct {
	itemID, phase, summary string
	paths                  []string
}

// Coordinator owns the store, the content repo, and the pending-commit
// batch. Callers interact exclusively through its exported command methods,
// each of which travels the command channel; the Coordinator's own loop is
// the only goroutine that touches the store or the repo.
type Coordinator struct {
	store  *store.Store
	repo   *gitrepo.Repo
	wl     *worklog.Writer
	logger *log.Logger

	cmds chan command

	pending []pendingCommit
	fatal   error
}

// New constructs a Coordinator. Run must be called (typically in its own
// goroutine) before any command method is used.
func New(st *store.Store, repo *gitrepo.Repo, wl *worklog.Writer, logger *log.Logger) *Coordinator {
	return &Coordinator{
		store:  st,
		repo:   repo,
		wl:     wl,
		logger: logger,
		cmds:   make(chan command, 32),
	}
}

// command is the envelope every request travels in: a closure that performs
// the mutation (holding whatever it needs via closure capture) and a
// single-shot reply channel.
type command struct {
	run   func(ctx context.Context, c *Coordinator) (any, error)
	reply chan result
}

type result struct {
	val any
	err error
}

// Run processes commands until ctx is cancelled or a fatal error occurs.
// Exactly one goroutine should call Run for a given Coordinator.
func (c *Coordinator) Run(ctx context.Context) {
	if _, err := c.store.LoadActive(); err != nil {
		c.logger.Error("coordinator startup probe failed; check out the store file from repo", "err", err)
		c.fatal = err
	}

	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-c.cmds:
			if !ok {
				return
			}
			if c.fatal != nil {
				cmd.reply <- result{err: fmt.Errorf("coordinator: terminated after fatal error: %w", c.fatal)}
				continue
			}
			val, err := cmd.run(ctx, c)
			cmd.reply <- result{val: val, err: err}
			if store.Classify(err) == store.ClassFatal {
				c.fatal = err
				c.logger.Error("coordinator: fatal error, terminating loop", "err", err)
				return
			}
		}
	}
}

// submit sends a command and waits for its reply, retrying up to
// maxLockAttempts total times on *store.LockTimeoutError with a one-second
// back-off between attempts, per spec §4.1.
func (c *Coordinator) submit(ctx context.Context, run func(ctx context.Context, c *Coordinator) (any, error)) (any, error) {
	var lastErr error
	for attempt := 1; attempt <= maxLockAttempts; attempt++ {
		reply := make(chan result, 1)
		select {
		case c.cmds <- command{run: run, reply: reply}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		select {
		case r := <-reply:
			if r.err == nil || store.Classify(r.err) != store.ClassRetryable {
				return r.val, r.err
			}
			lastErr = r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if attempt < maxLockAttempts {
			select {
			case <-time.After(lockBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// GetSnapshot loads the active item list and returns a copy. Validates
// items concurrently (a cheap fan-out today; the shape is set up for a
// per-item repo-stat check to be added without restructuring) using
// errgroup so the whole snapshot either validates or fails together.
func (c *Coordinator) GetSnapshot(ctx context.Context) ([]item.Item, error) {
	v, err := c.submit(ctx, func(ctx context.Context, c *Coordinator) (any, error) {
		items, err := c.store.LoadActive()
		if err != nil {
			return nil, err
		}
		g, _ := errgroup.WithContext(ctx)
		for i := range items {
			it := items[i]
			g.Go(func() error {
				if it.Status == item.StatusBlocked && it.BlockedFromStatus == "" {
					return fmt.Errorf("%w: item %q is blocked with no recorded prior status", store.ErrInvalidInput, it.ID)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]item.Item), nil
}

// UpdateItem applies one ItemUpdate to the named item under the store lock.
func (c *Coordinator) UpdateItem(ctx context.Context, id string, u item.Update) error {
	_, err := c.submit(ctx, func(ctx context.Context, c *Coordinator) (any, error) {
		var applyErr error
		err := c.store.WithLock(func() error {
			items, err := c.store.LoadActive()
			if err != nil {
				return err
			}
			idx := indexOf(items, id)
			if idx < 0 {
				return &store.ItemNotFoundError{ID: id}
			}
			if applyErr = item.Apply(&items[idx], u); applyErr != nil {
				return fmt.Errorf("%w: %v", store.ErrInvalidTransition, applyErr)
			}
			return c.store.SaveActive(items)
		})
		return nil, err
	})
	return err
}

// CompletePhase stages the phase's artifact paths. Destructive phases
// commit immediately with a `[{item}][{phase}] {summary}` message;
// non-destructive phases accumulate into the pending batch for the next
// BatchCommit.
func (c *Coordinator) CompletePhase(ctx context.Context, itemID, phase, summary string, paths []string, isDestructive bool) error {
	_, err := c.submit(ctx, func(ctx context.Context, c *Coordinator) (any, error) {
		if err := c.repo.StagePaths(ctx, paths); err != nil {
			return nil, err
		}
		if !isDestructive {
			c.pending = append(c.pending, pendingCommit{itemID: itemID, phase: phase, summary: summary, paths: paths})
			return nil, nil
		}
		if err := c.repo.StageStoreDir(ctx, c.store.Dir()); err != nil {
			return nil, err
		}
		msg := commitMessage(itemID, phase, summary)
		_, err := c.repo.Commit(ctx, msg)
		return nil, err
	})
	return err
}

// commitMessage builds `[{item}][{phase}] {summary}`, stripping a
// redundant leading bracket prefix the agent may have already included.
func commitMessage(itemID, phase, summary string) string {
	prefix := fmt.Sprintf("[%s][%s]", itemID, phase)
	summary = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(summary), prefix))
	return fmt.Sprintf("%s %s", prefix, summary)
}

// BatchCommit flushes the accumulated non-destructive batch into a single
// commit, if dirty. One tuple emits a phase-style commit; several emit one
// commit whose subject is the pipe-joined per-tuple messages and whose body
// is a bracket-concatenated label.
func (c *Coordinator) BatchCommit(ctx context.Context) error {
	_, err := c.submit(ctx, func(ctx context.Context, c *Coordinator) (any, error) {
		if len(c.pending) == 0 {
			return nil, nil
		}
		var msg string
		if len(c.pending) == 1 {
			p := c.pending[0]
			msg = commitMessage(p.itemID, p.phase, p.summary)
		} else {
			subjects := make([]string, len(c.pending))
			var body strings.Builder
			for i, p := range c.pending {
				subjects[i] = commitMessage(p.itemID, p.phase, p.summary)
				fmt.Fprintf(&body, "[%s][%s]\n", p.itemID, p.phase)
			}
			msg = strings.Join(subjects, " | ") + "\n\n" + body.String()
		}
		if err := c.repo.StageStoreDir(ctx, c.store.Dir()); err != nil {
			return nil, err
		}
		if _, err := c.repo.Commit(ctx, msg); err != nil {
			return nil, err
		}
		c.pending = nil
		return nil, nil
	})
	return err
}

// GetHeadSha returns the content repo's current HEAD commit id.
func (c *Coordinator) GetHeadSha(ctx context.Context) (string, error) {
	v, err := c.submit(ctx, func(ctx context.Context, c *Coordinator) (any, error) {
		return c.repo.HeadSHA(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// IsAncestor reports whether sha is an ancestor of the repo's current HEAD.
func (c *Coordinator) IsAncestor(ctx context.Context, sha string) (bool, error) {
	v, err := c.submit(ctx, func(ctx context.Context, c *Coordinator) (any, error) {
		return c.repo.IsAncestor(ctx, sha)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// RecordPhaseStart sets the item's last_phase_commit.
func (c *Coordinator) RecordPhaseStart(ctx context.Context, itemID, sha string) error {
	return c.UpdateItem(ctx, itemID, item.SetLastPhaseCommit(sha))
}

// WriteWorklog appends one narrative record.
func (c *Coordinator) WriteWorklog(ctx context.Context, id, title, phase, outcome, summary string) error {
	_, err := c.submit(ctx, func(ctx context.Context, c *Coordinator) (any, error) {
		return nil, c.wl.Write(id, title, phase, outcome, summary)
	})
	return err
}

// ArchiveItem removes the item from active, appends it to the archive, and
// writes a worklog record, all under the lock.
func (c *Coordinator) ArchiveItem(ctx context.Context, id string) error {
	_, err := c.submit(ctx, func(ctx context.Context, c *Coordinator) (any, error) {
		var archived item.Item
		err := c.store.WithLock(func() error {
			items, err := c.store.LoadActive()
			if err != nil {
				return err
			}
			idx := indexOf(items, id)
			if idx < 0 {
				return &store.ItemNotFoundError{ID: id}
			}
			archived = items[idx]
			items = append(items[:idx], items[idx+1:]...)
			if err := c.store.SaveActive(items); err != nil {
				return err
			}
			return c.store.AppendToArchive(archived)
		})
		if err != nil {
			return nil, err
		}
		return nil, c.wl.Write(archived.ID, archived.Title, archived.Phase, "Done", "archived")
	})
	return err
}

// IngestFollowUps generates fresh ids and appends new items for each
// follow-up, returning the new ids in order.
func (c *Coordinator) IngestFollowUps(ctx context.Context, followUps []item.FollowUp, origin string) ([]string, error) {
	v, err := c.submit(ctx, func(ctx context.Context, c *Coordinator) (any, error) {
		if len(followUps) == 0 {
			return []string{}, nil
		}
		var newIDs []string
		err := c.store.WithLock(func() error {
			items, err := c.store.LoadActive()
			if err != nil {
				return err
			}
			known, err := c.store.AllKnownIDs()
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			for _, fu := range followUps {
				id, genErr := newItemID(known)
				if genErr != nil {
					return genErr
				}
				known[id] = struct{}{}
				newIDs = append(newIDs, id)
				newItem := item.Item{
					ID:        id,
					Title:     fu.Title,
					CreatedAt: now,
					UpdatedAt: now,
					Status:    item.StatusNew,
					Origin:    origin,
					Description: &item.Description{
						Context: fu.Context,
					},
				}
				if fu.SuggestedSize != nil {
					newItem.Size = *fu.SuggestedSize
				}
				if fu.SuggestedRisk != nil {
					newItem.Risk = *fu.SuggestedRisk
				}
				items = append(items, newItem)
			}
			return c.store.SaveActive(items)
		})
		if err != nil {
			return nil, err
		}
		return newIDs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// newItemID generates a uuid-suffixed id guaranteed not to collide with the
// known set. The teacher's own id scheme is sequential per-project prefix;
// follow-up ingestion happens off the main loop so a random suffix avoids a
// second read-modify-write just to find the next integer.
func newItemID(known map[string]struct{}) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		id := "item-" + uuid.NewString()[:8]
		if _, exists := known[id]; !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: could not generate a unique id after 10 attempts", store.ErrIDExhausted)
}

// UnblockItem validates the item is blocked, restores it to its saved
// prior status, clears block fields, records the unblock context, and
// clears last_phase_commit (so the next phase run re-evaluates staleness
// fresh rather than against a commit that predates the unblock).
func (c *Coordinator) UnblockItem(ctx context.Context, id string, unblockContext string) error {
	_, err := c.submit(ctx, func(ctx context.Context, c *Coordinator) (any, error) {
		err := c.store.WithLock(func() error {
			items, err := c.store.LoadActive()
			if err != nil {
				return err
			}
			idx := indexOf(items, id)
			if idx < 0 {
				return &store.ItemNotFoundError{ID: id}
			}
			it := &items[idx]
			if it.Status != item.StatusBlocked {
				return fmt.Errorf("%w: item %q is not blocked", store.ErrInvalidInput, id)
			}
			it.UnblockContext = unblockContext
			if err := item.Apply(it, item.Unblock()); err != nil {
				return fmt.Errorf("%w: %v", store.ErrInvalidTransition, err)
			}
			return c.store.SaveActive(items)
		})
		return nil, err
	})
	return err
}

// MergeItem absorbs source into target: appends merge context to target's
// description, union-merges dependencies, strips the source id from every
// remaining item's dependency list, and archives source.
func (c *Coordinator) MergeItem(ctx context.Context, sourceID, targetID string) error {
	_, err := c.submit(ctx, func(ctx context.Context, c *Coordinator) (any, error) {
		var source item.Item
		err := c.store.WithLock(func() error {
			items, err := c.store.LoadActive()
			if err != nil {
				return err
			}
			srcIdx := indexOf(items, sourceID)
			tgtIdx := indexOf(items, targetID)
			if srcIdx < 0 {
				return &store.ItemNotFoundError{ID: sourceID}
			}
			if tgtIdx < 0 {
				return &store.ItemNotFoundError{ID: targetID}
			}

			source = items[srcIdx]
			target := &items[tgtIdx]
			if target.Description == nil {
				target.Description = &item.Description{}
			}
			note := fmt.Sprintf("[Merged from %s] %s", source.ID, source.Title)
			if target.Description.Context != "" {
				target.Description.Context += "\n" + note
			} else {
				target.Description.Context = note
			}
			target.Dependencies = unionStrings(target.Dependencies, source.Dependencies)

			items = append(items[:srcIdx], items[srcIdx+1:]...)
			for i := range items {
				items[i].Dependencies = removeString(items[i].Dependencies, sourceID)
			}

			if err := c.store.SaveActive(items); err != nil {
				return err
			}
			return c.store.AppendToArchive(source)
		})
		return nil, err
	})
	return err
}

func indexOf(items []item.Item, id string) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string(nil), a...)
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func removeString(list []string, s string) []string {
	out := list[:0:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
