package live

import (
	"sync"

	"github.com/softrate/quizgrader/internal/model"
	"github.com/softrate/quizgrader/internal/proctor"
)

type attemptKey struct{ quizID, studentID string }

// Registry keeps one live attempt per (quiz, student) so a reconnecting
// client resumes its countdown and strikes instead of starting over.
type Registry struct {
	grader  Grader
	counter proctor.WarningCounter
	opts    []Option

	mu       sync.Mutex
	attempts map[attemptKey]*Attempt
}

// NewRegistry creates a registry whose attempts share grader, counter and opts.
func NewRegistry(grader Grader, counter proctor.WarningCounter, opts ...Option) *Registry {
	return &Registry{
		grader:   grader,
		counter:  counter,
		opts:     opts,
		attempts: make(map[attemptKey]*Attempt),
	}
}

// Open returns the unfinished attempt for (quiz, student), starting a new
// one if there is none. A non-nil notify replaces the attempt's listener.
func (r *Registry) Open(quiz model.Quiz, studentID string, notify func(Event)) *Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := attemptKey{quiz.ID, studentID}
	if a, ok := r.attempts[k]; ok && a.Result() == nil {
		if notify != nil {
			a.SetNotify(notify)
		}
		return a
	}
	a := New(quiz, studentID, r.grader, r.counter, r.opts...)
	if notify != nil {
		a.SetNotify(notify)
	}
	a.Start()
	r.attempts[k] = a
	return a
}

// Remove stops and forgets the attempt for (quiz, student).
func (r *Registry) Remove(quizID, studentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := attemptKey{quizID, studentID}
	if a, ok := r.attempts[k]; ok {
		a.Close()
		delete(r.attempts, k)
	}
}

// Len returns the number of tracked attempts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}
